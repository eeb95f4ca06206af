package app

import (
	"fmt"
	"strings"
	"time"

	"rtcore/internal/config"
	"rtcore/internal/gc"
	"rtcore/internal/host"
	"rtcore/internal/observability/debughttp"
	"rtcore/internal/storage"
	"rtcore/internal/task/scheduler"
	logx "rtcore/pkg/logx"
)

const (
	defaultTickInterval = 10 * time.Millisecond
	defaultBusyTimeout  = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapHostConfig(cfg *config.Config) (host.Config, error) {
	rc := cfg.Runtime
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return host.Config{}, fmt.Errorf("runtime.timezone: invalid %q: %w", tz, err)
		}
	}
	return host.Config{
		Scheduler: scheduler.Config{
			HistorySize: rc.HistorySize,
			Timezone:    rc.Timezone,
		},
		GC: gc.Config{
			Strict:   rc.StrictRefcount,
			DiagRate: rc.MarkReleaseDiagRate,
		},
		ClearSchedulerOnGCStep: rc.ClearSchedulerOnGCStep,
	}, nil
}

func mapTickInterval(cfg *config.Config) (time.Duration, error) {
	d, err := config.ParseTickInterval(cfg.Runtime.TickInterval)
	if err != nil || d > 0 {
		return d, err
	}
	return defaultTickInterval, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	if cfg == nil || cfg.Debug == nil {
		return debughttp.Config{}, nil
	}
	d := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 60*time.Second)
	if err != nil {
		return debughttp.Config{}, err
	}
	return debughttp.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

// validate is installed as the hot-reload validator.
func validate(cfg *config.Config) error {
	if _, err := mapHostConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTickInterval(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	for _, sc := range cfg.Schedules {
		if _, err := scheduler.ParseSchedule(sc.Spec); err != nil {
			return fmt.Errorf("schedules.%s: %w", sc.Name, err)
		}
		if _, ok := scheduleActions[strings.ToLower(strings.TrimSpace(sc.Action))]; !ok {
			return fmt.Errorf("schedules.%s: unknown action %q", sc.Name, sc.Action)
		}
	}
	return nil
}

// LoadConfig reads and validates the config at path without starting
// anything.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenJournal opens the journal configured in cfg. It returns (nil, nil)
// when storage is disabled.
func OpenJournal(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	return storage.Open(sc, log)
}
