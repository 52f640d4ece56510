// Package timer binds named periodic tasks to the process's role and session.
//
// Lifecycle is the single owner of the running task set. Start begins each
// task at most once; a task that is already running is reported with
// ErrTaskRunning and left alone, so two instances never run concurrently.
// Stop blocks until every stopped task has finished its current run.
//
// Periodic is the generic ticker-driven task the concrete tasks are built on.
package timer
