package host

import (
	"bytes"
	"context"
	"testing"
	"time"

	"rtcore/internal/gc"
	logx "rtcore/pkg/logx"
)

func newTestRuntime(t *testing.T, cfg Config) (*Runtime, *ManualClock, *bytes.Buffer) {
	t.Helper()
	reg := gc.NewRegistry()
	if err := reg.Register(gc.TypeDescriptor{ID: 1, Name: "leaf"}); err != nil {
		t.Fatal(err)
	}
	clock := NewManualClock(1000)
	var out bytes.Buffer
	rt := New(cfg, Deps{Log: logx.Nop(), Clock: clock, Out: &out, Registry: reg})
	return rt, clock, &out
}

func TestGCStepKeepsPendingTasks(t *testing.T) {
	t.Parallel()
	rt, clock, _ := newTestRuntime(t, Config{})
	ran := 0
	if _, err := rt.Defer("later", 50, func(context.Context) error {
		ran++
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := rt.GCStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rt.Scheduler().Pending() != 1 {
		t.Fatalf("pending = %d, want 1", rt.Scheduler().Pending())
	}
	clock.Advance(50 * time.Millisecond)
	if err := rt.SchedulerStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}

func TestGCStepClearsSchedulerWhenConfigured(t *testing.T) {
	t.Parallel()
	rt, clock, _ := newTestRuntime(t, Config{ClearSchedulerOnGCStep: true})
	ran := 0
	if _, err := rt.Defer("later", 50, func(context.Context) error {
		ran++
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := rt.GCStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rt.Scheduler().Pending() != 0 {
		t.Fatalf("pending = %d, want 0", rt.Scheduler().Pending())
	}
	clock.Advance(time.Second)
	if err := rt.SchedulerStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran != 0 {
		t.Fatal("discarded task ran")
	}
}

func TestSchedulerStepUsesClock(t *testing.T) {
	t.Parallel()
	rt, clock, _ := newTestRuntime(t, Config{})
	ran := 0
	if _, err := rt.Defer("d", 10, func(context.Context) error {
		ran++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := rt.SchedulerStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran != 0 {
		t.Fatal("ran before the clock reached its tick")
	}
	clock.Set(1010)
	if err := rt.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran != 1 || !rt.Idle() {
		t.Fatalf("ran=%d idle=%v", ran, rt.Idle())
	}
}

func TestNativesOutput(t *testing.T) {
	t.Parallel()
	rt, _, out := newTestRuntime(t, Config{})
	if got := rt.NumericAdd(20, 20); got != 40 {
		t.Fatalf("NumericAdd = %v", got)
	}
	if err := rt.LogNumber(40); err != nil {
		t.Fatal(err)
	}
	if err := rt.PrintString("hello"); err != nil {
		t.Fatal(err)
	}
	if want := "40.000000\nhello\n"; out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestMarkAndStepThroughRuntime(t *testing.T) {
	t.Parallel()
	rt, _, _ := newTestRuntime(t, Config{})
	h, err := rt.Alloc(1, "payload")
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.GCMarkForRelease(h); err != nil {
		t.Fatal(err)
	}
	if err := rt.GCStep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rt.Collector().State(h) != gc.StateDestroyed {
		t.Fatalf("state = %s", rt.Collector().State(h))
	}
	snap := rt.Snapshot()
	if snap.Now != 1000 || snap.GC.Destroyed != 1 {
		t.Fatalf("snapshot now=%d destroyed=%d", snap.Now, snap.GC.Destroyed)
	}
}

func TestManualClockNeverMovesBackwards(t *testing.T) {
	t.Parallel()
	c := NewManualClock(10)
	c.Set(5)
	if c.Now() != 10 {
		t.Fatalf("Now = %d", c.Now())
	}
	if got := c.Advance(2 * time.Millisecond); got != 12 {
		t.Fatalf("Advance = %d", got)
	}
}
