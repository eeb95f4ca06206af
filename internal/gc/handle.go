package gc

import "strconv"

// Handle addresses one object. The zero Handle never refers to anything.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) IsZero() bool { return h.index == 0 }

func (h Handle) Index() uint32 { return h.index }

func (h Handle) Gen() uint32 { return h.gen }

func (h Handle) String() string {
	if h.IsZero() {
		return "obj-nil"
	}
	return "obj-" + strconv.FormatUint(uint64(h.index), 10) + "." + strconv.FormatUint(uint64(h.gen), 10)
}

// State is the lifecycle position of an object.
type State uint8

const (
	StateInvalid State = iota
	StateLive
	StatePending
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StatePending:
		return "pending-release"
	case StateDestroyed:
		return "destroyed"
	default:
		return "invalid"
	}
}

// Object is a managed value. Payload belongs to the program; the collector
// only reads the type and fields.
type Object struct {
	Payload any

	handle Handle
	typeID TypeID
	refs   int32
	state  State
	fields []Handle
}

func (o *Object) Handle() Handle { return o.handle }

func (o *Object) TypeID() TypeID { return o.typeID }

// RefCount is the count at the time of the call.
func (o *Object) RefCount() int32 { return o.refs }

// Fields returns a copy of the handles this object keeps alive.
func (o *Object) Fields() []Handle {
	out := make([]Handle, len(o.fields))
	copy(out, o.fields)
	return out
}

// slot is one arena cell. gen counts reuses; 0 is never handed out.
type slot struct {
	gen uint32
	obj *Object
}

type arena struct {
	slots []slot
	free  []uint32
	live  int
}

func newArena() arena {
	// index 0 is reserved so the zero Handle stays invalid
	return arena{slots: make([]slot, 1, 64)}
}

func (a *arena) alloc(obj *Object) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{gen: 1})
		idx = uint32(len(a.slots) - 1)
	}
	h := Handle{index: idx, gen: a.slots[idx].gen}
	obj.handle = h
	a.slots[idx].obj = obj
	a.live++
	return h
}

// lookup returns the object for h, or ErrStaleHandle once its slot was freed.
func (a *arena) lookup(h Handle) (*Object, error) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, ErrInvalidHandle
	}
	s := a.slots[h.index]
	if s.gen != h.gen || s.obj == nil {
		return nil, ErrStaleHandle
	}
	return s.obj, nil
}

func (a *arena) release(h Handle) {
	s := &a.slots[h.index]
	s.obj.state = StateDestroyed
	s.obj = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.index)
	a.live--
}
