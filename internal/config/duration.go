package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration resolves a duration-string field of the config tree. Empty and
// zero values fall back to def; garbage and negatives are errors carrying
// the field's dotted path.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
