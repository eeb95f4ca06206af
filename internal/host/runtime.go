package host

import (
	"context"
	"errors"
	"io"

	"rtcore/internal/eventbus"
	"rtcore/internal/gc"
	"rtcore/internal/task/scheduler"
	logx "rtcore/pkg/logx"
)

type Config struct {
	Scheduler scheduler.Config
	GC        gc.Config

	// ClearSchedulerOnGCStep discards every pending task after each GCStep.
	// Off by default: the collector and the scheduler are independent.
	ClearSchedulerOnGCStep bool
}

// Deps are the collaborators of a Runtime. Zero fields get defaults.
type Deps struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Clock    Clock
	Out      io.Writer
	Registry *gc.Registry
}

type Runtime struct {
	cfg Config
	log logx.Logger

	sched   *scheduler.Service
	gc      *gc.Collector
	clock   Clock
	natives *Natives
}

func New(cfg Config, deps Deps) *Runtime {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Runtime{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "host")),
		sched:   scheduler.New(cfg.Scheduler, log.With(logx.String("comp", "scheduler")), deps.Bus),
		gc:      gc.New(cfg.GC, deps.Registry, log.With(logx.String("comp", "gc")), deps.Bus),
		clock:   clock,
		natives: NewNatives(deps.Out, log.With(logx.String("comp", "natives"))),
	}
}

func (r *Runtime) Scheduler() *scheduler.Service { return r.sched }

func (r *Runtime) Collector() *gc.Collector { return r.gc }

func (r *Runtime) Natives() *Natives { return r.natives }

func (r *Runtime) Clock() Clock { return r.clock }

// Now is the runtime clock reading, the tick SchedulerStep uses.
func (r *Runtime) Now() uint64 { return r.clock.Now() }

// SchedulerStep runs every task eligible at the current clock reading.
func (r *Runtime) SchedulerStep(ctx context.Context) error {
	return r.sched.Step(ctx, r.clock.Now())
}

func (r *Runtime) SchedulerStepAt(ctx context.Context, now uint64) error {
	return r.sched.Step(ctx, now)
}

func (r *Runtime) EnqueueTask(t *scheduler.Task) (scheduler.TaskID, error) {
	return r.sched.Enqueue(t)
}

// Defer enqueues fn to run once the clock has advanced by delay ticks.
func (r *Runtime) Defer(name string, delay uint64, fn func(ctx context.Context) error) (scheduler.TaskID, error) {
	return r.sched.Enqueue(scheduler.NewFuncTask(name, r.clock.Now()+delay, fn))
}

func (r *Runtime) Alloc(typeID gc.TypeID, payload any, fields ...gc.Handle) (gc.Handle, error) {
	return r.gc.Alloc(typeID, payload, fields...)
}

func (r *Runtime) Retain(h gc.Handle) error { return r.gc.Retain(h) }

func (r *Runtime) Release(h gc.Handle) error { return r.gc.Release(h) }

func (r *Runtime) GCMarkForRelease(h gc.Handle) error { return r.gc.MarkForRelease(h) }

// GCStep destroys every queued object. With ClearSchedulerOnGCStep set it
// then drops all pending tasks, including ones that are not yet eligible.
func (r *Runtime) GCStep(ctx context.Context) error {
	err := r.gc.Step(ctx)
	if r.cfg.ClearSchedulerOnGCStep {
		if n := r.sched.Clear(); n > 0 {
			r.log.Warn("gc step discarded pending tasks", logx.Int("count", n))
		}
	}
	return err
}

// Tick runs one scheduler step followed by one collector step.
func (r *Runtime) Tick(ctx context.Context) error {
	return errors.Join(r.SchedulerStep(ctx), r.GCStep(ctx))
}

// Idle reports whether neither component has outstanding work.
func (r *Runtime) Idle() bool {
	return r.sched.Pending() == 0 && r.gc.PendingLen() == 0
}

func (r *Runtime) PrintString(text string) error { return r.natives.PrintString(text) }

func (r *Runtime) NumericAdd(a, b float64) float64 { return r.natives.NumericAdd(a, b) }

func (r *Runtime) LogNumber(v float64) error { return r.natives.LogNumber(v) }

// Snapshot combines the scheduler and collector snapshots.
type Snapshot struct {
	Now       uint64
	Scheduler scheduler.Snapshot
	GC        gc.Snapshot
}

func (r *Runtime) Snapshot() Snapshot {
	return Snapshot{Now: r.clock.Now(), Scheduler: r.sched.Snapshot(), GC: r.gc.Snapshot()}
}
