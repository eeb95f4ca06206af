package gc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rtcore/internal/eventbus"
	logx "rtcore/pkg/logx"
)

const (
	defaultDiagRate  = 20
	defaultDiagBurst = 20
)

type Config struct {
	// Strict rejects MarkForRelease on objects whose refcount is not zero.
	Strict bool
	// DiagRate bounds gc_mark_release diagnostic lines per second.
	// 0 uses the default; negative means unlimited.
	DiagRate float64
	// DiagBurst is the limiter burst (default 20).
	DiagBurst int
}

type Collector struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	reg *Registry

	arena    arena
	queue    []Handle
	stepping bool

	diag       *rate.Limiter
	suppressed uint64

	allocated uint64
	marked    uint64
	destroyed uint64
	failed    uint64
	steps     uint64
}

// ObjectEvent is the payload of object.* bus events.
type ObjectEvent struct {
	Handle   string `json:"handle"`
	Type     string `json:"type"`
	RefCount int32  `json:"refcount"`
	Cascade  bool   `json:"cascade,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StepEvent is the payload of gc.step bus events.
type StepEvent struct {
	Destroyed int `json:"destroyed"`
	Failed    int `json:"failed"`
	Queued    int `json:"queued"`
}

type Snapshot struct {
	Live           int
	Queued         int
	Allocated      uint64
	Marked         uint64
	Destroyed      uint64
	Failed         uint64
	Steps          uint64
	DiagSuppressed uint64
	Types          []string
}

func New(cfg Config, reg *Registry, log logx.Logger, bus eventbus.Bus) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if cfg.DiagRate == 0 {
		cfg.DiagRate = defaultDiagRate
	}
	if cfg.DiagBurst <= 0 {
		cfg.DiagBurst = defaultDiagBurst
	}
	limit := rate.Limit(cfg.DiagRate)
	if cfg.DiagRate < 0 {
		limit = rate.Inf
	}
	return &Collector{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		reg:   reg,
		arena: newArena(),
		diag:  rate.NewLimiter(limit, cfg.DiagBurst),
	}
}

func (c *Collector) Registry() *Registry { return c.reg }

// Alloc creates a live object with refcount 1, owned by the returned handle.
// Each field gains one reference for as long as the object lives.
func (c *Collector) Alloc(typeID TypeID, payload any, fields ...Handle) (Handle, error) {
	if _, ok := c.reg.Lookup(typeID); !ok {
		return Handle{}, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range fields {
		if _, err := c.liveLocked(f); err != nil {
			return Handle{}, fmt.Errorf("field %s: %w", f, err)
		}
	}
	for _, f := range fields {
		obj, _ := c.arena.lookup(f)
		obj.refs++
	}
	obj := &Object{
		Payload: payload,
		typeID:  typeID,
		refs:    1,
		state:   StateLive,
		fields:  append([]Handle(nil), fields...),
	}
	h := c.arena.alloc(obj)
	c.allocated++
	return h, nil
}

// Get returns the object addressed by h while it has not been destroyed.
func (c *Collector) Get(h Handle) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.lookup(h)
}

// State reports where h is in its lifecycle. Handles to freed slots report
// StateDestroyed even after the slot was reused.
func (c *Collector) State(h Handle) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, err := c.arena.lookup(h)
	switch {
	case err == nil:
		return obj.state
	case errors.Is(err, ErrStaleHandle):
		return StateDestroyed
	default:
		return StateInvalid
	}
}

// Retain adds a reference to a live object.
func (c *Collector) Retain(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, err := c.liveLocked(h)
	if err != nil {
		return err
	}
	obj.refs++
	return nil
}

// Release drops a reference. The object is marked for release when the
// count reaches zero.
func (c *Collector) Release(h Handle) error {
	c.mu.Lock()
	obj, err := c.liveLocked(h)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if obj.refs <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoReferences, h)
	}
	obj.refs--
	var ev *ObjectEvent
	if obj.refs == 0 {
		ev = c.markLocked(obj, false)
	}
	c.mu.Unlock()

	if ev != nil {
		c.publish(eventbus.TypeObjectMarked, *ev)
	}
	return nil
}

// MarkForRelease queues h for destruction on the next Step.
//
// A handle is queued at most once: a second mark returns ErrAlreadyPending
// and leaves the queue unchanged. Destroyed handles return ErrStaleHandle.
// Outside Strict mode the refcount is the caller's responsibility.
func (c *Collector) MarkForRelease(h Handle) error {
	c.mu.Lock()
	obj, err := c.arena.lookup(h)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if obj.state == StatePending {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyPending, h)
	}
	if c.cfg.Strict && obj.refs != 0 {
		refs := obj.refs
		c.mu.Unlock()
		return fmt.Errorf("%w: %s refcount=%d", ErrLiveReferences, h, refs)
	}
	ev := c.markLocked(obj, false)
	c.mu.Unlock()

	c.publish(eventbus.TypeObjectMarked, *ev)
	return nil
}

// PendingLen returns how many objects the next Step will destroy.
func (c *Collector) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Live returns the number of objects not yet destroyed.
func (c *Collector) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena.live
}

// Step destroys every object queued before the call.
//
// The queue is detached first, so objects queued while the step runs
// (by finalizers or by cascading release) wait for the next Step. The
// detached batch is always fully drained: a failing or panicking finalizer
// is reported as *DestroyError and the object is freed anyway. ctx is only
// handed to finalizers.
func (c *Collector) Step(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.stepping {
		c.mu.Unlock()
		return ErrStepInProgress
	}
	c.stepping = true
	c.steps++
	batch := c.queue
	c.queue = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.stepping = false
		c.mu.Unlock()
	}()

	var errs []error
	destroyed, failed := 0, 0
	for _, h := range batch {
		ok, err := c.destroy(ctx, h)
		if ok {
			destroyed++
		}
		if err != nil {
			failed++
			errs = append(errs, err)
		}
	}

	queued := c.PendingLen()
	if len(batch) > 0 {
		c.log.Debug("gc step", logx.Int("destroyed", destroyed), logx.Int("failed", failed), logx.Int("queued", queued))
	}
	c.publish(eventbus.TypeCollectorStep, StepEvent{Destroyed: destroyed, Failed: failed, Queued: queued})
	return errors.Join(errs...)
}

// destroy finalizes and frees one queued object.
func (c *Collector) destroy(ctx context.Context, h Handle) (bool, error) {
	c.mu.Lock()
	obj, err := c.arena.lookup(h)
	if err != nil || obj.state != StatePending {
		// queue entries are unique and only Step frees pending objects
		c.mu.Unlock()
		c.log.Warn("gc skip", logx.String("handle", h.String()), logx.Err(err))
		return false, nil
	}
	desc, _ := c.reg.Lookup(obj.typeID)
	c.mu.Unlock()

	var ferr error
	if desc.Finalize != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					ferr = fmt.Errorf("panic: %v", r)
					c.log.Error("gc.finalize.panic", logx.String("handle", h.String()), logx.String("type", desc.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			ferr = desc.Finalize(ctx, obj)
		}()
	}

	c.mu.Lock()
	var cascaded []ObjectEvent
	for _, f := range obj.fields {
		child, err := c.arena.lookup(f)
		if err != nil || child.state != StateLive {
			continue
		}
		if child.refs > 0 {
			child.refs--
		}
		if child.refs == 0 {
			cascaded = append(cascaded, *c.markLocked(child, true))
		}
	}
	refs := obj.refs
	c.arena.release(h)
	c.destroyed++
	if ferr != nil {
		c.failed++
	}
	c.mu.Unlock()

	ev := ObjectEvent{Handle: h.String(), Type: desc.Name, RefCount: refs}
	for _, ce := range cascaded {
		c.publish(eventbus.TypeObjectMarked, ce)
	}
	if ferr != nil {
		ev.Error = ferr.Error()
		c.log.Warn("gc.finalize.failed", logx.String("handle", h.String()), logx.String("type", desc.Name), logx.Err(ferr))
		c.publish(eventbus.TypeObjectDestroyFailed, ev)
		return true, &DestroyError{Handle: h, Type: obj.typeID, Err: ferr}
	}
	c.publish(eventbus.TypeObjectDestroyed, ev)
	return true, nil
}

// markLocked moves obj to the queue and emits the diagnostic line.
func (c *Collector) markLocked(obj *Object, cascade bool) *ObjectEvent {
	obj.state = StatePending
	c.queue = append(c.queue, obj.handle)
	c.marked++

	name := ""
	if d, ok := c.reg.Lookup(obj.typeID); ok {
		name = d.Name
	}
	if c.diag.AllowN(time.Now(), 1) {
		c.log.Debug("gc_mark_release",
			logx.Uint32("index", obj.handle.Index()),
			logx.Uint32("gen", obj.handle.Gen()),
			logx.String("type", name),
			logx.Int32("refcount", obj.refs),
			logx.Bool("cascade", cascade),
		)
	} else {
		c.suppressed++
	}
	return &ObjectEvent{Handle: obj.handle.String(), Type: name, RefCount: obj.refs, Cascade: cascade}
}

// liveLocked returns the object for h if it is neither queued nor destroyed.
func (c *Collector) liveLocked(h Handle) (*Object, error) {
	obj, err := c.arena.lookup(h)
	if err != nil {
		return nil, err
	}
	if obj.state != StateLive {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPending, h)
	}
	return obj, nil
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Live:           c.arena.live,
		Queued:         len(c.queue),
		Allocated:      c.allocated,
		Marked:         c.marked,
		Destroyed:      c.destroyed,
		Failed:         c.failed,
		Steps:          c.steps,
		DiagSuppressed: c.suppressed,
		Types:          c.reg.Names(),
	}
}

func (c *Collector) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
