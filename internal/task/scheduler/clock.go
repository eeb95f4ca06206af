package scheduler

import "time"

// One tick is one millisecond of wall time (Unix epoch based).
const TickDuration = time.Millisecond

// TickOf converts a wall time to a scheduler tick. Times before the epoch map to 0.
func TickOf(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// TimeOf converts a tick back to wall time in loc (Local if nil).
func TimeOf(tick uint64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(int64(tick)).In(loc)
}

// After returns the tick d after tick.
func After(tick uint64, d time.Duration) uint64 {
	if d <= 0 {
		return tick
	}
	return tick + uint64(d/TickDuration)
}
