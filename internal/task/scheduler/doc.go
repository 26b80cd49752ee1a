// Package scheduler turns persisted jobs into live timers.
//
// The Scheduler owns one Registry of one-shot timers keyed by job key. A
// registration upserts the job row and replaces any armed timer for the key;
// a job already due runs inline instead. Fired timers do not execute the job
// themselves: they submit it to the task engine, whose workers call the
// executor. Reconcile re-arms or catches up pending rows after a restart.
package scheduler
