package gc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"rtcore/internal/eventbus"
	logx "rtcore/pkg/logx"
)

const (
	typeLeaf TypeID = iota + 1
	typeNode
	typeFailing
	typePanics
)

// finalizeCounts records finalizer calls per handle so double destruction shows up
// as a count above one.
type finalizeCounts map[Handle]int

func newTestCollector(t *testing.T, cfg Config) (*Collector, finalizeCounts) {
	t.Helper()
	counts := finalizeCounts{}
	reg := NewRegistry()
	record := func(ctx context.Context, obj *Object) error {
		counts[obj.Handle()]++
		return nil
	}
	descs := []TypeDescriptor{
		{ID: typeLeaf, Name: "leaf", Finalize: record},
		{ID: typeNode, Name: "node", Finalize: record},
		{ID: typeFailing, Name: "failing", Finalize: func(ctx context.Context, obj *Object) error {
			counts[obj.Handle()]++
			return errors.New("finalizer failed")
		}},
		{ID: typePanics, Name: "panics", Finalize: func(ctx context.Context, obj *Object) error {
			counts[obj.Handle()]++
			panic("finalizer panic")
		}},
	}
	for _, d := range descs {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s): %v", d.Name, err)
		}
	}
	return New(cfg, reg, logx.Nop(), nil), counts
}

func mustAlloc(t *testing.T, c *Collector, typ TypeID, fields ...Handle) Handle {
	t.Helper()
	h, err := c.Alloc(typ, nil, fields...)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return h
}

func TestMarkedObjectDestroyedExactlyOnce(t *testing.T) {
	t.Parallel()
	c, counts := newTestCollector(t, Config{})
	h := mustAlloc(t, c, typeLeaf)

	if err := c.MarkForRelease(h); err != nil {
		t.Fatalf("MarkForRelease: %v", err)
	}
	if c.State(h) != StatePending {
		t.Fatalf("state = %s, want pending-release", c.State(h))
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if counts[h] != 1 {
		t.Fatalf("finalized %d times, want 1", counts[h])
	}
	if c.State(h) != StateDestroyed {
		t.Fatalf("state = %s, want destroyed", c.State(h))
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatalf("second Step: %v", err)
	}
	if counts[h] != 1 {
		t.Fatalf("second step touched the object again: %d", counts[h])
	}
}

func TestDoubleMarkIsRejected(t *testing.T) {
	t.Parallel()
	c, counts := newTestCollector(t, Config{})
	h := mustAlloc(t, c, typeLeaf)

	if err := c.MarkForRelease(h); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkForRelease(h); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second mark err = %v, want ErrAlreadyPending", err)
	}
	if c.PendingLen() != 1 {
		t.Fatalf("PendingLen = %d, want 1", c.PendingLen())
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if counts[h] != 1 {
		t.Fatalf("finalized %d times, want 1", counts[h])
	}
	snap := c.Snapshot()
	if snap.Destroyed != 1 || snap.Live != 0 {
		t.Fatalf("snapshot destroyed=%d live=%d", snap.Destroyed, snap.Live)
	}
}

func TestStepDestroysAllQueued(t *testing.T) {
	t.Parallel()
	c, counts := newTestCollector(t, Config{})
	x := mustAlloc(t, c, typeLeaf)
	y := mustAlloc(t, c, typeLeaf)
	for _, h := range []Handle{x, y} {
		if err := c.MarkForRelease(h); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if counts[x] != 1 || counts[y] != 1 {
		t.Fatalf("counts x=%d y=%d", counts[x], counts[y])
	}
	if c.PendingLen() != 0 || c.Live() != 0 {
		t.Fatalf("pending=%d live=%d", c.PendingLen(), c.Live())
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatalf("empty step: %v", err)
	}
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{})
	old := mustAlloc(t, c, typeLeaf)
	if err := c.MarkForRelease(old); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}

	reused := mustAlloc(t, c, typeLeaf)
	if reused.Index() != old.Index() {
		t.Fatalf("expected slot reuse: old=%s new=%s", old, reused)
	}
	if reused == old {
		t.Fatal("reused slot must carry a new generation")
	}
	if err := c.MarkForRelease(old); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("mark stale err = %v", err)
	}
	if _, err := c.Get(old); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("get stale err = %v", err)
	}
	if err := c.Retain(old); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("retain stale err = %v", err)
	}
	if c.State(reused) != StateLive {
		t.Fatalf("reused handle state = %s", c.State(reused))
	}
}

func TestZeroHandleIsInvalid(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{})
	if err := c.MarkForRelease(Handle{}); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("err = %v", err)
	}
	if c.State(Handle{}) != StateInvalid {
		t.Fatal("zero handle should be invalid")
	}
}

func TestAllocUnknownType(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{})
	if _, err := c.Alloc(99, nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetainReleaseMarksAtZero(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{})
	h := mustAlloc(t, c, typeLeaf)
	if err := c.Retain(h); err != nil {
		t.Fatal(err)
	}
	if err := c.Release(h); err != nil {
		t.Fatal(err)
	}
	if c.State(h) != StateLive {
		t.Fatalf("state after partial release = %s", c.State(h))
	}
	if err := c.Release(h); err != nil {
		t.Fatal(err)
	}
	if c.State(h) != StatePending {
		t.Fatalf("state at zero = %s, want pending-release", c.State(h))
	}
	if err := c.Release(h); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("release of pending object err = %v", err)
	}
}

func TestStrictModeRejectsLiveReferences(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{Strict: true})
	h := mustAlloc(t, c, typeLeaf)
	if err := c.MarkForRelease(h); !errors.Is(err, ErrLiveReferences) {
		t.Fatalf("err = %v, want ErrLiveReferences", err)
	}
	if c.PendingLen() != 0 {
		t.Fatal("rejected mark must not queue")
	}

	lenient, _ := newTestCollector(t, Config{})
	h2 := mustAlloc(t, lenient, typeLeaf)
	if err := lenient.MarkForRelease(h2); err != nil {
		t.Fatalf("lenient mark: %v", err)
	}
}

func TestCascadingReleaseWaitsForNextStep(t *testing.T) {
	t.Parallel()
	c, counts := newTestCollector(t, Config{})
	leaf := mustAlloc(t, c, typeLeaf)
	shared := mustAlloc(t, c, typeLeaf)
	parent := mustAlloc(t, c, typeNode, leaf, shared)

	// parent now owns leaf; drop the allocation reference
	if err := c.Release(leaf); err != nil {
		t.Fatal(err)
	}
	obj, err := c.Get(leaf)
	if err != nil {
		t.Fatal(err)
	}
	if obj.RefCount() != 1 {
		t.Fatalf("leaf refcount = %d, want 1", obj.RefCount())
	}

	if err := c.Release(parent); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if counts[parent] != 1 {
		t.Fatal("parent should be destroyed")
	}
	if counts[leaf] != 0 {
		t.Fatal("child must not be destroyed in the same step")
	}
	if c.State(leaf) != StatePending {
		t.Fatalf("leaf state = %s, want pending-release", c.State(leaf))
	}
	if c.State(shared) != StateLive {
		t.Fatalf("shared still owned by the caller, state = %s", c.State(shared))
	}

	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if counts[leaf] != 1 {
		t.Fatalf("leaf finalized %d times", counts[leaf])
	}
}

func TestFinalizerFailureStillDrainsQueue(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	c, counts := newTestCollector(t, Config{})
	c.bus = bus
	bad := mustAlloc(t, c, typeFailing)
	boom := mustAlloc(t, c, typePanics)
	ok := mustAlloc(t, c, typeLeaf)
	for _, h := range []Handle{bad, boom, ok} {
		if err := c.MarkForRelease(h); err != nil {
			t.Fatal(err)
		}
	}

	err := c.Step(context.Background())
	if err == nil {
		t.Fatal("expected finalizer errors")
	}
	var de *DestroyError
	if !errors.As(err, &de) {
		t.Fatalf("want *DestroyError in %v", err)
	}
	if c.PendingLen() != 0 {
		t.Fatalf("queue not drained: %d", c.PendingLen())
	}
	for _, h := range []Handle{bad, boom, ok} {
		if c.State(h) != StateDestroyed {
			t.Fatalf("%s state = %s", h, c.State(h))
		}
		if counts[h] != 1 {
			t.Fatalf("%s finalized %d times", h, counts[h])
		}
	}
	if snap := c.Snapshot(); snap.Failed != 2 {
		t.Fatalf("failed = %d, want 2", snap.Failed)
	}

	failed := 0
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TypeObjectDestroyFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Fatalf("destroy_failed events = %d, want 2", failed)
	}
}

func TestFinalizerMarkingDefersToNextStep(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	var c *Collector
	var other Handle
	if err := reg.Register(TypeDescriptor{ID: 1, Name: "leaf"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(TypeDescriptor{ID: 2, Name: "owner", Finalize: func(ctx context.Context, obj *Object) error {
		return c.MarkForRelease(other)
	}}); err != nil {
		t.Fatal(err)
	}
	c = New(Config{}, reg, logx.Nop(), nil)
	other = mustAlloc(t, c, 1)
	owner := mustAlloc(t, c, 2)

	if err := c.MarkForRelease(owner); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State(other) != StatePending {
		t.Fatalf("other state = %s, want pending-release", c.State(other))
	}
	if err := c.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State(other) != StateDestroyed {
		t.Fatalf("other state = %s, want destroyed", c.State(other))
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(TypeDescriptor{ID: 1, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(TypeDescriptor{ID: 1, Name: "b"}); !errors.Is(err, ErrTypeExists) {
		t.Fatalf("err = %v", err)
	}
	if err := reg.Register(TypeDescriptor{ID: 0, Name: "zero"}); err == nil {
		t.Fatal("id 0 should be rejected")
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Names = %v", got)
	}
}

func TestDiagnosticLinesAreRateLimited(t *testing.T) {
	t.Parallel()
	c, _ := newTestCollector(t, Config{DiagRate: 0.001, DiagBurst: 2})
	for i := 0; i < 5; i++ {
		h := mustAlloc(t, c, typeLeaf)
		if err := c.MarkForRelease(h); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Snapshot().DiagSuppressed; got != 3 {
		t.Fatalf("suppressed = %d, want 3", got)
	}
}

func TestMarkDiagnosticCarriesHandle(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register(TypeDescriptor{ID: typeLeaf, Name: "leaf"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	c := New(Config{}, reg, logx.NewWriter(&buf, "debug"), nil)
	h := mustAlloc(t, c, typeLeaf)
	if err := c.MarkForRelease(h); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"gc_mark_release"`, `"index":1`, `"gen":1`, `"type":"leaf"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("diagnostic missing %s:\n%s", want, out)
		}
	}
}
