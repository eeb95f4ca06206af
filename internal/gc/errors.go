package gc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidHandle  = errors.New("gc: invalid handle")
	ErrStaleHandle    = errors.New("gc: stale handle")
	ErrAlreadyPending = errors.New("gc: object already marked for release")
	ErrLiveReferences = errors.New("gc: object still has live references")
	ErrNoReferences   = errors.New("gc: object has no references to release")
	ErrUnknownType    = errors.New("gc: unknown type")
	ErrTypeExists     = errors.New("gc: type already registered")
	ErrStepInProgress = errors.New("gc: step already in progress")
)

// DestroyError reports a finalizer failure. The object is freed regardless.
type DestroyError struct {
	Handle Handle
	Type   TypeID
	Err    error
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("destroy %s (type %d): %v", e.Handle, e.Type, e.Err)
}

func (e *DestroyError) Unwrap() error { return e.Err }
