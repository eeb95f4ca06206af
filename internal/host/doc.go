// Package host is the boundary between a compiled program and the runtime.
//
// A Runtime owns one scheduler and one collector and exposes the calls a
// program makes into the host: stepping, enqueueing tasks, marking objects
// for release and the native helpers used for output and arithmetic.
package host
