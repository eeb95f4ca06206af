package scheduler

import (
	"fmt"
	"sort"
	"strings"

	logx "rtcore/pkg/logx"
)

// AddSchedule registers a recurring action. Each occurrence is an ordinary
// task; the next one is enqueued at the end of the step that ran the previous
// one. The first occurrence is computed from tick from.
//
// Registering an existing name replaces the previous schedule.
func (s *Service) AddSchedule(name, spec string, from uint64, action Action) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if action == nil {
		return ErrInvalidTask
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	sched, err := ps.schedule(s.parser)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	d := &scheduleDef{name: name, spec: strings.TrimSpace(spec), sched: sched, action: action}
	s.schedules[name] = d
	s.armLocked(d, from)
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", d.spec), logx.Uint64("next", d.next))
	return nil
}

// Remove unregisters a recurring schedule and withdraws its armed occurrence.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeScheduleLocked(name string) bool {
	d, ok := s.schedules[name]
	if !ok {
		return false
	}
	delete(s.schedules, name)
	if e := d.current; e != nil && !e.task.completed && e != s.running {
		s.dropLocked(e)
		s.compactLocked()
	}
	d.current = nil
	return true
}

// armLocked enqueues the next occurrence of d strictly after tick from.
func (s *Service) armLocked(d *scheduleDef, from uint64) {
	next := d.sched.Next(TimeOf(from, s.loc))
	if next.IsZero() {
		// Cron expressions like "0 0 30 2 *" never fire.
		d.current = nil
		d.next = 0
		return
	}
	at := TickOf(next)
	if at <= from {
		at = from + 1
	}
	t := NewTask(d.name, at, d.action)
	t.sched = d
	if _, err := s.enqueueLocked(t); err != nil {
		s.log.Warn("schedule arm failed", logx.String("name", d.name), logx.Err(err))
		return
	}
	d.current = s.byTask[t]
	d.next = at
}

// rearmLocked arms every registered schedule whose occurrence has run or was dropped.
func (s *Service) rearmLocked(now uint64) {
	for _, d := range s.schedules {
		if d.current == nil || d.current.task.completed || d.current.canceled {
			s.armLocked(d, now)
		}
	}
}

// Snapshot returns a point-in-time view for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Pending:  len(s.pending),
		Executed: s.executed,
		Failed:   s.failed,
		Canceled: s.canceled,
		Steps:    s.steps,
		Timezone: s.loc.String(),
	}
	for _, e := range s.pending {
		if e.canceled || e.task.completed {
			continue
		}
		if !snap.HasNext || e.task.at < snap.NextAt {
			snap.NextAt = e.task.at
			snap.HasNext = true
		}
	}
	for _, d := range s.schedules {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{Name: d.name, Spec: d.spec, Next: d.next})
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	return snap
}
