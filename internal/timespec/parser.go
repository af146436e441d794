// Package timespec parses user-supplied time specifications for CLI
// filters.
package timespec

import (
	"fmt"
	"time"
)

// Parse resolves a time specification to an absolute time.
// Two formats are accepted:
//   - Go duration format: "1h", "30m", "1h30m" (relative, meaning that
//     long ago)
//   - RFC3339 timestamps: "2026-08-31T13:00:00Z"
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or RFC3339 like '2026-08-31T13:00:00Z')", spec)
}
