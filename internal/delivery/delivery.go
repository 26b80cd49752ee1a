// Package delivery sends departure notifications to a user's registered
// targets. Each channel adapter classifies its failures: errors wrapped with
// Permanent mean the target is gone and must not be used again; any other
// error is transient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"triptimer/internal/trips"
)

var (
	ErrChannelDisabled = errors.New("delivery channel disabled")
	ErrUnknownChannel  = errors.New("unknown delivery channel")
)

// Payload is the rendered notification. Channels pick the fields they can
// show.
type Payload struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Icon      string            `json:"icon,omitempty"`
	Badge     string            `json:"badge,omitempty"`
	Vibrate   []int             `json:"vibrate,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Sender delivers one payload to one target.
type Sender interface {
	Send(ctx context.Context, t trips.Target, p Payload) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as a conclusive rejection of the target.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Router dispatches by target channel.
type Router struct {
	mu    sync.RWMutex
	chans map[trips.Channel]Sender
}

func NewRouter() *Router { return &Router{chans: map[trips.Channel]Sender{}} }

// Register sets the sender for ch; a nil sender disables the channel.
func (r *Router) Register(ch trips.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[ch] = s
}

func (r *Router) Send(ctx context.Context, t trips.Target, p Payload) error {
	switch t.Channel {
	case trips.ChannelWebPush, trips.ChannelTelegram:
	default:
		return Permanent(fmt.Errorf("%w %q", ErrUnknownChannel, t.Channel))
	}
	r.mu.RLock()
	s := r.chans[t.Channel]
	r.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("%w: %s", ErrChannelDisabled, t.Channel)
	}
	return s.Send(ctx, t, p)
}
