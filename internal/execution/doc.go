// Package execution runs agents against the model without blocking the caller.
//
// # Lifecycle
//
// Manager.Start validates the agent's tasks, inserts an execution with status
// "running" and returns it. A detached goroutine then races the model call
// against the configured timeout and writes exactly one terminal update:
//
//	running -> completed (result = model text, truncated if oversized)
//	running -> failed    (result = timeout, cancellation or error message)
//
// If that write fails the record stays "running" and is reclaimed later by
// the sweep. The write is not retried.
//
// # Sweep
//
// Manager.SweepStuck fails running executions older than a threshold. The
// Sweeper calls it once at startup with a zero threshold, then on a cron
// schedule with the configured threshold.
//
// Completion writes are unconditional while the sweep only matches running
// rows. If both land on the same record the last write wins; either way the
// record ends terminal with a matching result.
//
// # Concurrency
//
// In-flight executions are tracked in a process-local registry holding one
// cancel function per execution. CanStart compares the count against
// MaxConcurrent; enforcing it is left to callers. Cancel aborts the model
// call through its context.
package execution
