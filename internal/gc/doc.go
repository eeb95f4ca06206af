// Package gc is the reference-counted object collector.
//
// Objects live in an arena and are addressed by Handle, an index paired with
// a generation. Freeing a slot bumps its generation, so a handle that
// outlived its object is detected instead of reaching reused memory.
//
// Release is deferred: MarkForRelease queues an object and Step destroys
// everything queued so far. Destruction runs the type's finalizer, then drops
// the references the object held on its fields. Fields that reach zero are
// queued for the following Step rather than destroyed recursively.
//
// The collector is meant to be driven from a single host loop. It is safe for
// concurrent use but Step is not reentrant.
package gc
