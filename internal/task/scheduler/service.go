package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"rtcore/internal/eventbus"
	logx "rtcore/pkg/logx"
)

const defaultHistorySize = 200

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s := &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		byTask:    map[*Task]*entry{},
		byID:      map[TaskID]*entry{},
		schedules: map[string]*scheduleDef{},
	}
	s.loc = s.loadLocation()
	return s
}

// Enqueue inserts t into the pending collection and returns its id.
//
// A task that is already pending is not inserted again: its current id is
// returned together with ErrDuplicateTask.
func (s *Service) Enqueue(t *Task) (TaskID, error) {
	if t == nil || t.action == nil {
		return 0, ErrInvalidTask
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueueLocked(t)
}

func (s *Service) enqueueLocked(t *Task) (TaskID, error) {
	if e, ok := s.byTask[t]; ok {
		return e.id, ErrDuplicateTask
	}
	if t.completed {
		return t.id, ErrTaskCompleted
	}
	s.seq++
	e := &entry{id: TaskID(s.seq), task: t}
	t.id = e.id
	s.pending = append(s.pending, e)
	s.byTask[t] = e
	s.byID[e.id] = e
	return e.id, nil
}

// Cancel withdraws a pending task that has not executed yet. A task whose
// action is running reports false: it completes normally.
func (s *Service) Cancel(id TaskID) bool {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok || e.task.completed || e == s.running {
		s.mu.Unlock()
		return false
	}
	s.dropLocked(e)
	s.compactLocked()
	s.canceled++
	s.mu.Unlock()

	s.log.Debug("task canceled", logx.String("task", e.task.name), logx.String("id", id.String()))
	s.publish(eventbus.TypeTaskCanceled, TaskEvent{ID: id.String(), Name: e.task.name, At: e.task.at})
	return true
}

// Clear discards every pending task and returns how many were dropped.
// Recurring schedules stay registered but lose their armed occurrence.
func (s *Service) Clear() int {
	s.mu.Lock()
	n := 0
	for _, e := range s.pending {
		if e.canceled || e.task.completed || e == s.running {
			continue
		}
		s.dropLocked(e)
		n++
	}
	s.compactLocked()
	s.canceled += uint64(n)
	s.mu.Unlock()

	if n > 0 {
		s.log.Warn("pending tasks discarded", logx.Int("count", n))
	}
	s.publish(eventbus.TypeSchedulerCleared, ClearEvent{Dropped: n})
	return n
}

// dropLocked marks e canceled and unlinks it from the indexes.
// The slice itself is compacted by removePendingLocked.
func (s *Service) dropLocked(e *entry) {
	e.canceled = true
	delete(s.byTask, e.task)
	delete(s.byID, e.id)
	if d := e.task.sched; d != nil && d.current == e {
		d.current = nil
	}
}

// compactLocked removes retired entries unless a step is running; Step
// compacts once its batch is done so the collection keeps its length while
// actions observe it.
func (s *Service) compactLocked() {
	if !s.stepping {
		s.removePendingLocked()
	}
}

// Pending returns the number of tasks waiting in the collection.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Step runs every pending task whose tick is <= now, then retires them.
//
// The eligible batch is fixed when the scan starts. Failures are isolated:
// each failing task is still retired, the rest of the batch still runs, and
// all failures are returned joined. If ctx is canceled the remaining tasks
// of the batch stay pending.
func (s *Service) Step(ctx context.Context, now uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stepping {
		s.mu.Unlock()
		return ErrStepInProgress
	}
	s.stepping = true
	s.steps++
	batch := make([]*entry, 0, len(s.pending))
	for _, e := range s.pending {
		if !e.canceled && e.task.at <= now {
			batch = append(batch, e)
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stepping = false
		s.mu.Unlock()
	}()

	var errs []error
	executed, failed := 0, 0
	for _, e := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		s.mu.Lock()
		skip := e.canceled
		if !skip {
			s.running = e
		}
		s.mu.Unlock()
		if skip {
			continue
		}

		err := s.execOne(ctx, e, now)
		executed++
		if err != nil {
			failed++
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.removePendingLocked()
	s.rearmLocked(now)
	pending := len(s.pending)
	s.mu.Unlock()

	if executed > 0 {
		s.log.Debug("scheduler step", logx.Uint64("now", now), logx.Int("executed", executed), logx.Int("failed", failed), logx.Int("pending", pending))
	}
	s.publish(eventbus.TypeSchedulerStep, StepEvent{Now: now, Executed: executed, Failed: failed, Pending: pending})
	return errors.Join(errs...)
}

// execOne runs a single task and marks it completed whatever the outcome.
func (s *Service) execOne(ctx context.Context, e *entry, now uint64) error {
	t := e.task
	start := time.Now()

	var err error
	func() {
		// A panicking action must not abort the rest of the step.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = t.action.Execute(ctx)
	}()
	dur := time.Since(start)

	s.mu.Lock()
	s.running = nil
	t.completed = true
	delete(s.byTask, t)
	delete(s.byID, e.id)
	s.executed++
	item := HistoryItem{ID: e.id, Name: t.name, At: t.at, RanAt: now, Duration: dur}
	if err != nil {
		s.failed++
		item.Error = err.Error()
	}
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()

	ev := TaskEvent{ID: e.id.String(), Name: t.name, At: t.at, RanAt: now, Duration: dur, Error: item.Error}
	if err != nil {
		s.log.Warn("task.failed", logx.String("task", t.name), logx.String("id", e.id.String()), logx.Err(err), logx.Duration("dur", dur))
		s.publish(eventbus.TypeTaskFailed, ev)
		return &TaskError{ID: e.id, Name: t.name, Err: err}
	}
	s.log.Trace("task.completed", logx.String("task", t.name), logx.String("id", e.id.String()), logx.Duration("dur", dur))
	s.publish(eventbus.TypeTaskExecuted, ev)
	return nil
}

// removePendingLocked drops completed and canceled entries in one pass.
func (s *Service) removePendingLocked() {
	n := 0
	for _, e := range s.pending {
		if e.canceled || e.task.completed {
			continue
		}
		s.pending[n] = e
		n++
	}
	for i := n; i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = s.pending[:n]
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
