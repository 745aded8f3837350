// Package logx wraps zerolog behind a small, service-aware logging API.
//
// A Logger created from the Service stays live across config reloads:
// Apply() can swap sinks and levels at runtime without re-wiring callers.
package logx
