package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rtcore/internal/config"
	"rtcore/internal/eventbus"
	"rtcore/internal/gc"
	"rtcore/internal/host"
	"rtcore/internal/observability/debughttp"
	"rtcore/internal/program"
	"rtcore/internal/runtime/supervisor"
	"rtcore/internal/storage"
	logx "rtcore/pkg/logx"
)

type App struct {
	cfgPath string
	runID   string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rt    *host.Runtime
	sd    *sdNotifier
	debug *debughttp.Server

	tick atomic.Int64 // time.Duration
	once bool

	stopOnce   sync.Once
	stopReason atomic.Value // StopReason
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	out   io.Writer
	clock host.Clock
	once  bool
}

// WithOutput redirects the program's native output (default stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

func WithClock(c host.Clock) Option { return func(o *options) { o.clock = c } }

// WithOnce skips configured recurring schedules so the runtime can go idle.
func WithOnce(enabled bool) Option { return func(o *options) { o.once = enabled } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	runID := uuid.NewString()
	log = log.With(logx.String("run", runID))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("journal enabled", logx.String("driver", sc.Driver))
	}

	hostCfg, err := mapHostConfig(cfg)
	if err != nil {
		return nil, errors.Join(err, closeStore(store), logSvc.Close())
	}
	reg := gc.NewRegistry()
	if err := program.Register(reg); err != nil {
		return nil, errors.Join(err, closeStore(store), logSvc.Close())
	}
	rt := host.New(hostCfg, host.Deps{
		Log:      log,
		Bus:      bus,
		Clock:    o.clock,
		Out:      o.out,
		Registry: reg,
	})

	a := &App{
		cfgPath: cfgPath,
		runID:   runID,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		rt:      rt,
		once:    o.once,
	}
	src := debughttp.Sources{Status: a.Status}
	if store != nil {
		src.Journal = func(ctx context.Context, n int) (any, error) { return store.Recent(ctx, n) }
	}
	a.debug = debughttp.New(a.log.With(logx.String("comp", "debughttp")), src)
	tick, _ := mapTickInterval(cfg)
	a.tick.Store(int64(tick))
	if !a.once {
		applySchedules(rt, a.log, nil, cfg.Schedules)
	}
	return a, nil
}

func closeStore(st storage.Store) error {
	if st == nil {
		return nil
	}
	return st.Close()
}

func (a *App) Runtime() *host.Runtime { return a.rt }

func (a *App) RunID() string { return a.runID }

func (a *App) Logger() logx.Logger { return a.log }

// Status is the document served by the debug endpoint.
type Status struct {
	RunID      string             `json:"run_id"`
	Runtime    host.Snapshot      `json:"runtime"`
	Goroutines []supervisor.Stats `json:"goroutines,omitempty"`
}

func (a *App) Status() any {
	st := Status{RunID: a.runID, Runtime: a.rt.Snapshot()}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

// Entry runs the program's top-level code once.
func (a *App) Entry(ctx context.Context) error {
	a.log.Debug("program entry")
	if err := program.Entry(ctx, a.rt); err != nil {
		a.log.Error("program entry failed", logx.Err(err))
		return err
	}
	return nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) StopReason() StopReason {
	if r, ok := a.stopReason.Load().(StopReason); ok {
		return r
	}
	return StopUnknown
}

func (a *App) setStopReason(r StopReason) { a.stopReason.CompareAndSwap(nil, r) }

// Start launches the journal writer and config hot reload. The step loop
// is started by Run once the program entry has returned.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sd = newSDNotifier(a.log.With(logx.String("comp", "systemd")))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error { return validate(cfg) })

	if a.store != nil {
		events, unsub := a.bus.Subscribe(1024)
		a.sup.Go("journal", func(c context.Context) error {
			defer unsub()
			return runJournal(c, a.log.With(logx.String("comp", "journal")), a.store, a.runID, events)
		})
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 10*time.Second)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	if dc, err := mapDebugConfig(a.cfgm.Get()); err == nil {
		a.debug.Reconfigure(a.sup.Context(), dc)
	}

	a.sd.Ready()
	a.log.Info("rtcore started", logx.Duration("tick", a.tickInterval()), logx.Bool("once", a.once))
	return nil
}

func (a *App) tickInterval() time.Duration { return time.Duration(a.tick.Load()) }

// stepLoop ticks the runtime until ctx is done. Task and finalizer failures
// are reported but never stop the loop.
func (a *App) stepLoop(ctx context.Context) error {
	t := time.NewTimer(a.tickInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := a.rt.Tick(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("step reported failures", logx.Err(err))
			}
			a.sd.Ping(now)
			t.Reset(a.tickInterval())
		}
	}
}

// RunUntilIdle ticks until neither queue holds work, or ctx is done.
func (a *App) RunUntilIdle(ctx context.Context) error {
	var errs []error
	for !a.rt.Idle() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := a.rt.Tick(ctx); err != nil {
			a.log.Warn("step reported failures", logx.Err(err))
			errs = append(errs, err)
		}
		if a.rt.Idle() {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(a.tickInterval()):
		}
	}
	a.setStopReason(StopIdle)
	return errors.Join(errs...)
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RestartRequired(oldCfg, newCfg) {
		a.log.Warn("runtime/storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	if d, err := mapTickInterval(newCfg); err == nil {
		a.tick.Store(int64(d))
	}
	if dc, err := mapDebugConfig(newCfg); err == nil && a.sup != nil {
		a.debug.Reconfigure(a.sup.Context(), dc)
	}
	if a.once {
		return
	}
	var prev []config.ScheduleConfig
	if oldCfg != nil {
		prev = oldCfg.Schedules
	}
	applySchedules(a.rt, a.log, prev, newCfg.Schedules)
}

// Stop cancels background work, flushes the journal and closes sinks.
func (a *App) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.setStopReason(StopAppStop)
		if a.sd != nil {
			a.sd.Stopping()
		}
		a.debug.Stop(ctx)
		if a.sup != nil {
			if werr := a.sup.Stop(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
				err = werr
			}
		}
		snap := a.rt.Snapshot()
		a.log.Info("rtcore stopped",
			logx.String("reason", string(a.StopReason())),
			logx.Int("tasks_pending", snap.Scheduler.Pending),
			logx.Int("objects_live", snap.GC.Live),
		)
		err = errors.Join(err, closeStore(a.store), a.logs.Close())
	})
	return err
}

// Run starts the app and runs the program entry. It then ticks the runtime
// until ctx is done, or with WithOnce until the runtime is idle.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	stopCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}

	if err := a.Entry(ctx); err != nil {
		a.setStopReason(StopFatalError)
		sctx, cancel := stopCtx()
		defer cancel()
		return errors.Join(err, a.Stop(sctx))
	}

	var runErr error
	if a.once {
		runErr = a.RunUntilIdle(ctx)
	} else {
		a.sup.Go("host.step", a.stepLoop)
		select {
		case <-ctx.Done():
			a.setStopReason(StopSignal)
		case <-a.Done():
			a.setStopReason(StopFatalError)
		}
	}

	sctx, cancel := stopCtx()
	defer cancel()
	return errors.Join(runErr, a.Stop(sctx))
}
