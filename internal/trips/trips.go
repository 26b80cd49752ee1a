// Package trips is the host's record of trips (subjects) and the delivery
// targets users registered for notifications. The scheduler only reads
// subjects, writes refreshed metadata back, and deletes targets that a
// delivery channel reported as gone.
package trips

import (
	"errors"
	"time"
)

var (
	ErrSubjectNotFound = errors.New("subject not found")
	ErrTargetNotFound  = errors.New("delivery target not found")
)

type Kind string

const (
	KindTrain  Kind = "train"
	KindFlight Kind = "flight"
)

// Subject is a trip whose departure anchors scheduled jobs.
type Subject struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Kind        Kind      `json:"kind"`
	Number      string    `json:"number"`
	DepartureAt time.Time `json:"departure_at"`
	Origin      string    `json:"origin,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Car         string    `json:"car,omitempty"`
	Seat        string    `json:"seat,omitempty"`
	// TrainType is the refreshed metadata value, e.g. "CR400AF".
	TrainType string    `json:"train_type,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasMetadata reports whether the subject carries a refreshable value.
func (s Subject) HasMetadata() bool { return s.Kind == KindTrain }

type Channel string

const (
	ChannelWebPush  Channel = "webpush"
	ChannelTelegram Channel = "telegram"
)

// Target is one delivery destination of a user. For web push, Endpoint is the
// push service URL and P256dh/Auth are the subscription keys; for telegram,
// Endpoint is the chat id.
type Target struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Channel   Channel   `json:"channel"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh,omitempty"`
	Auth      string    `json:"auth,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
