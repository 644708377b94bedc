package model

import (
	"testing"
	"time"
)

func TestSlotTransitions(t *testing.T) {
	cases := []struct {
		name string
		from SlotStatus
		to   SlotStatus
		want bool
	}{
		{"claim", SlotAvailable, SlotClaimed, true},
		{"release", SlotClaimed, SlotAvailable, true},
		{"complete", SlotClaimed, SlotCompleted, true},
		{"complete unclaimed", SlotAvailable, SlotCompleted, true},
		{"reopen completed", SlotCompleted, SlotAvailable, false},
		{"claim claimed", SlotClaimed, SlotClaimed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestBookingTransitions(t *testing.T) {
	if !BookingConfirmed.CanTransition(BookingCancelled) {
		t.Error("confirmed booking must be cancellable")
	}
	if BookingCancelled.CanTransition(BookingConfirmed) {
		t.Error("cancelled is terminal, reconfirm must be rejected")
	}
	if BookingCancelled.CanTransition(BookingCancelled) {
		t.Error("cancelled -> cancelled is not a transition")
	}
}

func TestSessionTransitions(t *testing.T) {
	if !SessionScheduled.CanTransition(SessionCancelled) {
		t.Error("scheduled session must be cancellable")
	}
	if !SessionScheduled.CanTransition(SessionFinished) {
		t.Error("scheduled session must be finishable")
	}
	if SessionCancelled.CanTransition(SessionScheduled) {
		t.Error("cancelled session must not be reschedulable")
	}
}

func TestSlotTimestamps(t *testing.T) {
	s := TimeSlot{
		SlotDate:  time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC),
		StartTime: "09:00:00",
		EndTime:   "10:30:00",
	}
	start, end := s.StartsAt(), s.EndsAt()
	if start.IsZero() || end.IsZero() {
		t.Fatal("expected parsed timestamps")
	}
	if !end.After(start) {
		t.Errorf("end %v not after start %v", end, start)
	}
	if got := end.Sub(start).Minutes(); got != 90 {
		t.Errorf("duration = %v min, want 90", got)
	}
}
