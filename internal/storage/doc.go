// Package storage opens triptimer's SQLite database and owns its schema.
//
// The same database holds:
//   - scheduled_jobs (the scheduler's source of truth, see internal/jobs)
//   - trips and delivery_targets (host-owned records, see internal/trips)
//   - audit (operator actions taken through the admin surface)
package storage
