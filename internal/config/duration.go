package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DurationError names the config field that holds an unusable duration.
type DurationError struct {
	Field string
	Value string
	Err   error
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("%s: bad duration %q: %v", e.Field, e.Value, e.Err)
}

func (e *DurationError) Unwrap() error { return e.Err }

var errNegativeDuration = errors.New("must not be negative")

// ParseDurationField reads a Go duration string ("30s", "1m30s"). Blank
// means unset and yields zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, &DurationError{Field: field, Value: raw, Err: err}
	case d < 0:
		return 0, &DurationError{Field: field, Value: raw, Err: errNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for
// unset and zero values.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
