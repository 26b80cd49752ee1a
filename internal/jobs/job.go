// Package jobs holds the durable record of every scheduled action.
//
// A row is created once per job key and never deleted. Its status leaves
// pending at most once; UpdateStatus is the single point that decides which
// execution wins when a live timer and a startup catch-up race.
package jobs

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Variant string

const (
	NotifyDeparture Variant = "notify_departure"
	RefreshMetadata Variant = "refresh_metadata"
)

func (v Variant) Valid() bool { return v == NotifyDeparture || v == RefreshMetadata }

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

var (
	ErrNotFound      = errors.New("job not found")
	ErrInvalidStatus = errors.New("invalid status transition")
	ErrInvalidJob    = errors.New("invalid job")
)

type Job struct {
	Key       string    `json:"job_key"`
	SubjectID string    `json:"subject_id"`
	TargetID  string    `json:"target_id,omitempty"`
	Variant   Variant   `json:"variant"`
	DueTime   time.Time `json:"due_time"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyFor derives the unique job key. Refresh jobs ignore targetID.
func KeyFor(subjectID, targetID string, v Variant) string {
	switch v {
	case RefreshMetadata:
		return "refresh:" + subjectID
	default:
		return "notify:" + subjectID + ":" + targetID
	}
}

// New builds a pending job with its key filled in.
func New(subjectID, targetID string, v Variant, due time.Time) Job {
	if v == RefreshMetadata {
		targetID = ""
	}
	return Job{
		Key:       KeyFor(subjectID, targetID, v),
		SubjectID: subjectID,
		TargetID:  targetID,
		Variant:   v,
		DueTime:   due.Truncate(time.Millisecond),
		Status:    StatusPending,
	}
}

func (j Job) validate() error {
	switch {
	case strings.TrimSpace(j.SubjectID) == "":
		return errors.Join(ErrInvalidJob, errors.New("subject id is required"))
	case !j.Variant.Valid():
		return errors.Join(ErrInvalidJob, errors.New("unknown variant "+string(j.Variant)))
	case j.Variant == NotifyDeparture && strings.TrimSpace(j.TargetID) == "":
		return errors.Join(ErrInvalidJob, errors.New("notify job needs a target"))
	case j.DueTime.IsZero():
		return errors.Join(ErrInvalidJob, errors.New("due time is required"))
	case j.Key != KeyFor(j.SubjectID, j.TargetID, j.Variant):
		return errors.Join(ErrInvalidJob, errors.New("key does not match subject/target/variant"))
	}
	return nil
}

// Store is the persistence contract the scheduler relies on.
type Store interface {
	// Create inserts the job or, when the key exists, replaces its due time
	// and resets it to pending. It returns the stored row.
	Create(ctx context.Context, j Job) (Job, error)
	Get(ctx context.Context, key string) (Job, error)
	ListPending(ctx context.Context) ([]Job, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Job, error)
	// UpdateStatus moves a pending job to a terminal status. It reports false,
	// without error, when the job had already left pending.
	UpdateStatus(ctx context.Context, key string, status Status) (bool, error)
	// UpdateStatusIfDue is UpdateStatus restricted to the row still carrying
	// due. A job rescheduled while its old run was in flight is left pending.
	UpdateStatusIfDue(ctx context.Context, key string, due time.Time, status Status) (bool, error)
}
