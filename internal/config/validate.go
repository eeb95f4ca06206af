package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks fields that decoding alone cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := ParseTickInterval(cfg.Runtime.TickInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.Runtime.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("runtime.history_size: must be >= 0"))
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if d := cfg.Debug; d != nil {
		if _, err := ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("debug.write_timeout", d.WriteTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	seen := map[string]bool{}
	for i, s := range cfg.Schedules {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("schedules[%d].name: required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("schedules[%d].name: duplicate %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(s.Spec) == "" {
			errs = append(errs, fmt.Errorf("schedules[%d].spec: required", i))
		}
	}
	return errors.Join(errs...)
}
