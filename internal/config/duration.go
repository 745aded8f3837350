package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationOrDefault reads a Go duration string from a config field
// (grace windows, busy timeouts). An empty or zero value falls back to def;
// a negative value is rejected rather than defaulted, since "-5s" in a
// config file is a mistake, not an omission. path names the field in error
// messages.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
