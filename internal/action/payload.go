package action

import (
	"fmt"
	"strings"
	"time"

	"triptimer/internal/delivery"
	"triptimer/internal/trips"
)

const departureTitle = "Your trip is about to start"

// BuildPayload renders the departure notification from the subject as it is
// now.
func BuildPayload(sub trips.Subject, jobKey string, now time.Time, loc *time.Location) delivery.Payload {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	switch sub.Kind {
	case trips.KindFlight:
		fmt.Fprintf(&b, "Flight %s departs at %s", sub.Number, sub.DepartureAt.In(loc).Format("15:04"))
	default:
		fmt.Fprintf(&b, "Train %s departs at %s", sub.Number, sub.DepartureAt.In(loc).Format("15:04"))
	}
	if sub.Origin != "" {
		fmt.Fprintf(&b, " from %s", sub.Origin)
	}
	switch {
	case sub.Car != "" && sub.Seat != "":
		fmt.Fprintf(&b, ", car %s seat %s", sub.Car, sub.Seat)
	case sub.Seat != "":
		fmt.Fprintf(&b, ", seat %s", sub.Seat)
	}
	b.WriteString(". Have a good trip!")

	return delivery.Payload{
		Title:     departureTitle,
		Body:      b.String(),
		Tag:       jobKey,
		Timestamp: now.UnixMilli(),
		Data:      map[string]string{"subject_id": sub.ID, "job_key": jobKey},
	}
}
