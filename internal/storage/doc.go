// Package storage persists task records.
//
// The query contract is part of the core design: the scheduler relies on the
// predicate listings (due-before, due-between, secondary-pending) and on
// field-level updates that stay atomic at single-record granularity, so a
// concurrent completion and a scheduler flag update cannot corrupt a record.
package storage
