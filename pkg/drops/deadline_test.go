package drops

import (
	"errors"
	"testing"
	"time"
)

func TestPickupDeadlineUsesLocationZone(test *testing.T) {
	test.Parallel()
	location := Location{
		Name:               "Northside Market",
		PickupStartMinutes: 12 * 60,
		PickupEndMinutes:   14 * 60,
		Timezone:           "America/Chicago",
	}
	// Midnight UTC on the drop date is still the previous evening in Chicago;
	// the deadline must land on the drop date's local 14:00 regardless.
	dropDate := time.Date(2025, time.June, 7, 12, 0, 0, 0, time.UTC)

	deadline, err := PickupDeadline(dropDate, location)
	if err != nil {
		test.Fatalf("pickup deadline: %v", err)
	}
	zone, _ := time.LoadLocation("America/Chicago")
	expected := time.Date(2025, time.June, 7, 14, 0, 0, 0, zone)
	if !deadline.Equal(expected) {
		test.Fatalf("expected %v, got %v", expected, deadline)
	}
}

func TestPickupDeadlineRejectsBadTimezone(test *testing.T) {
	test.Parallel()
	location := Location{PickupEndMinutes: 14 * 60, Timezone: "Mars/Olympus"}
	_, err := PickupDeadline(time.Now(), location)
	if !errors.Is(err, ErrUnknownLocation) {
		test.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
}

func TestOrderabilityAtAroundDeadline(test *testing.T) {
	test.Parallel()
	deadline := time.Date(2025, time.June, 7, 14, 0, 0, 0, time.UTC)
	grace := 15 * time.Minute

	cases := []struct {
		name          string
		now           time.Time
		orderable     bool
		inGracePeriod bool
	}{
		{name: "before deadline", now: deadline.Add(-time.Minute), orderable: true, inGracePeriod: false},
		{name: "at deadline", now: deadline, orderable: true, inGracePeriod: false},
		{name: "inside grace", now: deadline.Add(10 * time.Minute), orderable: true, inGracePeriod: true},
		{name: "at grace end", now: deadline.Add(grace), orderable: true, inGracePeriod: true},
		{name: "after grace", now: deadline.Add(16 * time.Minute), orderable: false, inGracePeriod: false},
	}
	for _, testCase := range cases {
		verdict := OrderabilityAt(testCase.now, deadline, grace)
		if verdict.Orderable != testCase.orderable {
			test.Fatalf("%s: expected orderable=%v, got %v", testCase.name, testCase.orderable, verdict.Orderable)
		}
		if verdict.InGracePeriod != testCase.inGracePeriod {
			test.Fatalf("%s: expected in_grace=%v, got %v", testCase.name, testCase.inGracePeriod, verdict.InGracePeriod)
		}
	}
}

func TestOrderabilityAtReportsTimeRemaining(test *testing.T) {
	test.Parallel()
	deadline := time.Date(2025, time.June, 7, 14, 0, 0, 0, time.UTC)
	grace := 15 * time.Minute

	early := OrderabilityAt(deadline.Add(-30*time.Minute), deadline, grace)
	if early.TimeRemaining != 30*time.Minute {
		test.Fatalf("expected 30m remaining, got %v", early.TimeRemaining)
	}
	inGrace := OrderabilityAt(deadline.Add(10*time.Minute), deadline, grace)
	if inGrace.TimeRemaining != 5*time.Minute {
		test.Fatalf("expected 5m of grace remaining, got %v", inGrace.TimeRemaining)
	}
	if inGrace.Reason != reasonGracePeriod {
		test.Fatalf("expected grace reason, got %q", inGrace.Reason)
	}
	expired := OrderabilityAt(deadline.Add(time.Hour), deadline, grace)
	if expired.Reason != reasonDeadlinePassed {
		test.Fatalf("expected deadline reason, got %q", expired.Reason)
	}
}
