package action

import (
	"context"
	"time"

	"triptimer/internal/delivery"
	"triptimer/internal/jobs"
	"triptimer/internal/trips"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeLookupFailed: subject or target missing at execution time.
	OutcomeLookupFailed Outcome = "lookup_failed"
	// OutcomeDeliveryRejected: the channel reported the target as gone.
	OutcomeDeliveryRejected Outcome = "delivery_rejected"
	// OutcomeTransient: network, service or storage error.
	OutcomeTransient Outcome = "transient_failure"
	// OutcomeDuplicate: the job had already left pending.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale: the job was rescheduled after this run was armed.
	OutcomeStale Outcome = "stale"
	// OutcomeInterrupted: the run was canceled (shutdown, caller gone) before
	// it finished. The job stays pending for the next Reconcile.
	OutcomeInterrupted Outcome = "interrupted"
)

// Status is the terminal job status an outcome maps to.
func (o Outcome) Status() jobs.Status {
	if o == OutcomeCompleted {
		return jobs.StatusCompleted
	}
	return jobs.StatusFailed
}

// Skipped reports outcomes that performed no action.
func (o Outcome) Skipped() bool { return o == OutcomeDuplicate || o == OutcomeStale }

// Result describes one execution. OldValue/NewValue are set for refresh runs.
type Result struct {
	Key      string        `json:"job_key"`
	Variant  jobs.Variant  `json:"variant"`
	Outcome  Outcome       `json:"outcome"`
	Status   jobs.Status   `json:"status,omitempty"`
	OldValue string        `json:"old_value,omitempty"`
	NewValue string        `json:"new_value,omitempty"`
	Changed  bool          `json:"changed"`
	Error    string        `json:"error,omitempty"`
	Took     time.Duration `json:"took"`
}

// SubjectSource is the host's trip lookup. GetSubject returns
// trips.ErrSubjectNotFound for deleted subjects.
type SubjectSource interface {
	GetSubject(ctx context.Context, id string) (trips.Subject, error)
	UpdateMetadata(ctx context.Context, id, value string) error
}

// TargetSource resolves and removes delivery targets. GetTarget returns
// trips.ErrTargetNotFound for deleted targets.
type TargetSource interface {
	GetTarget(ctx context.Context, id string) (trips.Target, error)
	DeleteTarget(ctx context.Context, id string) error
}

// MetadataSource returns the current metadata value of a subject; "" means
// nothing is known.
type MetadataSource interface {
	Fetch(ctx context.Context, sub trips.Subject) (string, error)
}

type Deps struct {
	Store    jobs.Store
	Subjects SubjectSource
	Targets  TargetSource
	Sender   delivery.Sender
	Metadata MetadataSource
}
