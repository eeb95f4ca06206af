// Package scheduler holds deferred work for the compiled program and runs it
// when the host steps the clock.
//
// Execution is cooperative and synchronous: Step runs every task whose
// scheduled tick has arrived, one after another, then retires them. Nothing
// here starts goroutines; progress happens only inside Step.
//
// Tasks enqueued while a step is running are not eligible until the next
// step, even when their tick is already due.
package scheduler
