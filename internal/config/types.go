package config

// Config is the host process configuration. JSON or YAML, unknown keys rejected.
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Runtime   RuntimeConfig    `json:"runtime"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Debug     *DebugConfig     `json:"debug,omitempty"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RuntimeConfig controls the step loop, the scheduler and the collector.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "10ms"
//   - history_size: 200
//   - timezone: Local
//   - mark_release_diag_rate: 20 lines/s (negative for unlimited)
type RuntimeConfig struct {
	// TickInterval is a Go duration string between host steps.
	TickInterval string `json:"tick_interval,omitempty"`

	// ClearSchedulerOnGCStep drops pending tasks after every collector step.
	ClearSchedulerOnGCStep bool `json:"clear_scheduler_on_gc_step,omitempty"`
	// StrictRefcount rejects marking objects that still have references.
	StrictRefcount bool `json:"strict_refcount,omitempty"`

	MarkReleaseDiagRate float64 `json:"mark_release_diag_rate,omitempty"`
	HistorySize         int     `json:"history_size,omitempty"`
	Timezone            string  `json:"timezone,omitempty"`
}

// StorageConfig controls the lifecycle journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rtcore.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig controls the optional introspection HTTP server
// (/healthz, /status, pprof). Addr defaults to 127.0.0.1:6060.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

// ScheduleConfig declares a recurring host action.
//
// Action is one of "snapshot" (log runtime counters) or "print" (PrintString Arg).
type ScheduleConfig struct {
	Name   string `json:"name"`
	Spec   string `json:"spec"`
	Action string `json:"action"`
	Arg    string `json:"arg,omitempty"`
}
