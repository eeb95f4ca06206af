package config

import (
	"reflect"
	"strings"

	logx "rtcore/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and log
// fields describing the new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Runtime, newCfg.Runtime
	if strings.TrimSpace(o.TickInterval) != strings.TrimSpace(n.TickInterval) ||
		o.ClearSchedulerOnGCStep != n.ClearSchedulerOnGCStep ||
		o.StrictRefcount != n.StrictRefcount ||
		o.MarkReleaseDiagRate != n.MarkReleaseDiagRate ||
		o.HistorySize != n.HistorySize ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) {
		changed = append(changed, "runtime")
		attrs = append(attrs,
			logx.String("runtime.tick_interval", strings.TrimSpace(n.TickInterval)),
			logx.Bool("runtime.clear_scheduler_on_gc_step", n.ClearSchedulerOnGCStep),
			logx.Bool("runtime.strict_refcount", n.StrictRefcount),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		if newCfg.Debug != nil {
			attrs = append(attrs,
				logx.Bool("debug.enabled", newCfg.Debug.Enabled),
				logx.String("debug.addr", newCfg.Debug.Addr),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}
	return changed, attrs
}

// RestartRequired reports changes the running host cannot apply in place.
func RestartRequired(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	o, n := oldCfg.Runtime, newCfg.Runtime
	return o.StrictRefcount != n.StrictRefcount ||
		o.ClearSchedulerOnGCStep != n.ClearSchedulerOnGCStep ||
		o.HistorySize != n.HistorySize ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) ||
		!reflect.DeepEqual(oldCfg.Storage, newCfg.Storage)
}
