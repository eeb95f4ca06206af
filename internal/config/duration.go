package config

import (
	"fmt"
	"strings"
	"time"

	"rtcore/internal/task/scheduler"
)

// ParseDurationField reads an optional non-negative duration. An empty value
// yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseBoundedDuration(path, raw, 0)
}

// ParseTickInterval reads runtime.tick_interval. A set interval must cover at
// least one scheduler tick, otherwise consecutive steps would see the same
// clock reading.
func ParseTickInterval(raw string) (time.Duration, error) {
	return parseBoundedDuration("runtime.tick_interval", raw, scheduler.TickDuration)
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	switch {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	}
	return d, nil
}

func parseBoundedDuration(path, raw string, floor time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, d)
	case d > 0 && d < floor:
		return 0, fmt.Errorf("%s: %s is below the minimum of %s", path, d, floor)
	}
	return d, nil
}
