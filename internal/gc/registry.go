package gc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TypeID selects the type descriptor of an object.
type TypeID int32

// FinalizeFunc runs once when an object is destroyed, before its fields are released.
type FinalizeFunc func(ctx context.Context, obj *Object) error

type TypeDescriptor struct {
	ID       TypeID
	Name     string
	Finalize FinalizeFunc
}

// Registry maps type ids to descriptors.
type Registry struct {
	mu    sync.RWMutex
	types map[TypeID]TypeDescriptor
}

func NewRegistry() *Registry {
	return &Registry{types: map[TypeID]TypeDescriptor{}}
}

func (r *Registry) Register(desc TypeDescriptor) error {
	desc.Name = strings.TrimSpace(desc.Name)
	if desc.ID <= 0 {
		return fmt.Errorf("gc: type id must be > 0, got %d", desc.ID)
	}
	if desc.Name == "" {
		desc.Name = fmt.Sprintf("type-%d", desc.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.types[desc.ID]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrTypeExists, desc.ID, prev.Name)
	}
	r.types[desc.ID] = desc
	return nil
}

func (r *Registry) Lookup(id TypeID) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[id]
	return d, ok
}

// Names lists registered type names ordered by id.
func (r *Registry) Names() []string {
	r.mu.RLock()
	ids := make([]TypeID, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.Lookup(id); ok {
			out = append(out, d.Name)
		}
	}
	return out
}
