package host

import (
	"sync"
	"time"

	"rtcore/internal/task/scheduler"
)

// Clock supplies the tick passed to SchedulerStep.
type Clock interface {
	Now() uint64
}

// SystemClock reads the wall clock in scheduler ticks.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return scheduler.TickOf(time.Now()) }

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock { return &ManualClock{now: start} }

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to tick. Moving backwards is ignored.
func (c *ManualClock) Set(tick uint64) {
	c.mu.Lock()
	if tick > c.now {
		c.now = tick
	}
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = scheduler.After(c.now, d)
	return c.now
}
