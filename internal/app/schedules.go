package app

import (
	"context"
	"strings"

	"rtcore/internal/config"
	"rtcore/internal/host"
	"rtcore/internal/task/scheduler"
	logx "rtcore/pkg/logx"
)

type scheduleActionFunc func(rt *host.Runtime, log logx.Logger, arg string) scheduler.Action

var scheduleActions = map[string]scheduleActionFunc{
	"snapshot": func(rt *host.Runtime, log logx.Logger, _ string) scheduler.Action {
		return scheduler.ActionFunc(func(ctx context.Context) error {
			snap := rt.Snapshot()
			log.Info("runtime snapshot",
				logx.Uint64("now", snap.Now),
				logx.Int("tasks_pending", snap.Scheduler.Pending),
				logx.Uint64("tasks_executed", snap.Scheduler.Executed),
				logx.Uint64("tasks_failed", snap.Scheduler.Failed),
				logx.Int("objects_live", snap.GC.Live),
				logx.Int("objects_queued", snap.GC.Queued),
				logx.Uint64("objects_destroyed", snap.GC.Destroyed),
			)
			return nil
		})
	},
	"print": func(rt *host.Runtime, _ logx.Logger, arg string) scheduler.Action {
		return scheduler.ActionFunc(func(ctx context.Context) error {
			return rt.PrintString(arg)
		})
	},
}

// applySchedules makes the scheduler's recurring set match cfg. Names listed
// in prev but absent from cfg are removed. Entries identical to prev that are
// still registered keep their armed occurrence.
func applySchedules(rt *host.Runtime, log logx.Logger, prev, next []config.ScheduleConfig) {
	sched := rt.Scheduler()
	keep := map[string]bool{}
	for _, sc := range next {
		keep[strings.TrimSpace(sc.Name)] = true
	}
	old := map[string]config.ScheduleConfig{}
	for _, sc := range prev {
		name := strings.TrimSpace(sc.Name)
		old[name] = sc
		if !keep[name] && sched.Remove(name) {
			log.Info("schedule removed", logx.String("name", name))
		}
	}
	registered := map[string]bool{}
	for _, info := range sched.Snapshot().Schedules {
		registered[info.Name] = true
	}
	now := rt.Now()
	for _, sc := range next {
		name := strings.TrimSpace(sc.Name)
		if p, ok := old[name]; ok && registered[name] && sameSchedule(p, sc) {
			continue
		}
		mk, ok := scheduleActions[strings.ToLower(strings.TrimSpace(sc.Action))]
		if !ok {
			log.Warn("schedule skipped: unknown action", logx.String("name", sc.Name), logx.String("action", sc.Action))
			continue
		}
		if err := sched.AddSchedule(sc.Name, sc.Spec, now, mk(rt, log, sc.Arg)); err != nil {
			log.Warn("schedule rejected", logx.String("name", sc.Name), logx.Err(err))
		}
	}
}

func sameSchedule(a, b config.ScheduleConfig) bool {
	return strings.TrimSpace(a.Spec) == strings.TrimSpace(b.Spec) &&
		strings.EqualFold(strings.TrimSpace(a.Action), strings.TrimSpace(b.Action)) &&
		a.Arg == b.Arg
}
