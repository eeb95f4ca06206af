// Package program is the compiled program the host binary runs at startup.
package program

import (
	"context"
	"errors"
	"fmt"

	"rtcore/internal/gc"
	"rtcore/internal/host"
)

const (
	TypePos2 gc.TypeID = iota + 1
	TypeRecord
	TypeClosure
)

type Pos2 struct {
	X float64
	Y float64
}

type Record struct {
	AAA float64
}

// Types returns the descriptors for every object type the program allocates.
func Types() []gc.TypeDescriptor {
	return []gc.TypeDescriptor{
		{ID: TypePos2, Name: "Pos2"},
		{ID: TypeRecord, Name: "Record"},
		{ID: TypeClosure, Name: "Closure", Finalize: func(ctx context.Context, obj *gc.Object) error {
			obj.Payload = nil
			return nil
		}},
	}
}

func Register(reg *gc.Registry) error {
	for _, d := range Types() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Entry is the program's top-level code. Locals are released on return; the
// deferred call keeps pos2 alive through its closure until it has run.
func Entry(ctx context.Context, rt *host.Runtime) (err error) {
	pos2, err := rt.Alloc(TypePos2, &Pos2{X: 123, Y: 10})
	if err != nil {
		return err
	}
	pos, err := rt.Alloc(TypePos2, &Pos2{X: 20, Y: 40})
	if err != nil {
		return errors.Join(err, rt.Release(pos2))
	}
	smth, err := rt.Alloc(TypeRecord, &Record{AAA: 123})
	if err != nil {
		return errors.Join(err, rt.Release(pos2), rt.Release(pos))
	}
	defer func() {
		err = errors.Join(err, rt.Release(smth), rt.Release(pos), rt.Release(pos2))
	}()

	if err := letsgo(rt, pos); err != nil {
		return err
	}
	if err := rt.PrintString("hello world from typescript!"); err != nil {
		return err
	}
	if err := rt.PrintString("hello 2!"); err != nil {
		return err
	}

	env, err := rt.Alloc(TypeClosure, nil, pos2)
	if err != nil {
		return err
	}
	if _, err := rt.Defer("letsgo(pos2)", 0, func(ctx context.Context) error {
		return errors.Join(letsgo(rt, pos2), rt.Release(env))
	}); err != nil {
		return errors.Join(err, rt.Release(env))
	}
	return nil
}

func letsgo(rt *host.Runtime, h gc.Handle) error {
	obj, err := rt.Collector().Get(h)
	if err != nil {
		return err
	}
	pos, ok := obj.Payload.(*Pos2)
	if !ok {
		return fmt.Errorf("letsgo: %s is not a Pos2", h)
	}
	pos.X = rt.NumericAdd(pos.X, pos.X)
	return rt.LogNumber(pos.X)
}
