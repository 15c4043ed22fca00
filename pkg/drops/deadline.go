package drops

import (
	"fmt"
	"time"
)

// Verdict is the orderability answer for a drop at a point in time.
type Verdict struct {
	Orderable     bool
	InGracePeriod bool
	TimeRemaining time.Duration
	Reason        string
}

// PickupDeadline maps a drop date and a location's pickup-hour end to the
// absolute ordering deadline. The drop date's clock time is discarded; the
// deadline is pickupEndMinutes after local midnight in the location's zone.
func PickupDeadline(dropDate time.Time, location Location) (time.Time, error) {
	zone, err := time.LoadLocation(location.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timezone %q", ErrUnknownLocation, location.Timezone)
	}
	localDate := dropDate.In(zone)
	midnight := time.Date(localDate.Year(), localDate.Month(), localDate.Day(), 0, 0, 0, 0, zone)
	return midnight.Add(time.Duration(location.PickupEndMinutes) * time.Minute), nil
}

// OrderabilityAt is the pure deadline verdict: orderable before the deadline,
// orderable-but-flagged inside the grace window, expired afterwards.
func OrderabilityAt(now time.Time, deadline time.Time, grace time.Duration) Verdict {
	graceEnd := deadline.Add(grace)
	if now.After(graceEnd) {
		return Verdict{
			Orderable: false,
			Reason:    reasonDeadlinePassed,
		}
	}
	if now.After(deadline) {
		return Verdict{
			Orderable:     true,
			InGracePeriod: true,
			TimeRemaining: graceEnd.Sub(now),
			Reason:        reasonGracePeriod,
		}
	}
	return Verdict{
		Orderable:     true,
		TimeRemaining: deadline.Sub(now),
	}
}
