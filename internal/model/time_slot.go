package model

import "time"

// SlotStatus enumerates the lifecycle states of a time slot.  A slot is
// created AVAILABLE by schedule generation, becomes CLAIMED when an
// instructor publishes a session against it, and is swept to COMPLETED
// once its date has passed.  Slots are never deleted.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotClaimed   SlotStatus = "CLAIMED"
	SlotCompleted SlotStatus = "COMPLETED"
)

// slotTransitions is the full set of legal slot status transitions.
// CLAIMED -> AVAILABLE is the explicit release path and is only valid
// while no live session references the slot; the repository enforces
// that side condition.  The past-date sweep completes claimed and
// never-claimed slots alike, so both states may reach COMPLETED.
var slotTransitions = map[SlotStatus][]SlotStatus{
	SlotAvailable: {SlotClaimed, SlotCompleted},
	SlotClaimed:   {SlotAvailable, SlotCompleted},
	SlotCompleted: {},
}

// CanTransition reports whether moving a slot from one status to
// another is allowed by the lifecycle table.
func (s SlotStatus) CanTransition(to SlotStatus) bool {
	for _, t := range slotTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// TimeSlot represents a bookable (date, start, end) interval owned by an
// instructor, independent of any specific class offering.  At most one
// session may reference a slot; the claim is the one-way transition
// AVAILABLE -> CLAIMED performed as a single conditional write.
//
// Fields:
//  ID        – primary key identifier.
//  InstructorID – instructor who owns the schedule.
//  SlotDate  – calendar date of the interval (UTC).
//  StartTime – start of the interval, "HH:MM:SS".
//  EndTime   – end of the interval, "HH:MM:SS".
//  Status    – current lifecycle state.
//  CreatedAt – creation timestamp.
type TimeSlot struct {
	ID           uint64     // time_slots.id
	InstructorID uint64     // time_slots.instructor_id
	SlotDate     time.Time  // time_slots.slot_date
	StartTime    string     // time_slots.start_time
	EndTime      string     // time_slots.end_time
	Status       SlotStatus // time_slots.status
	CreatedAt    time.Time  // time_slots.created_at
}

// StartsAt combines the slot date and start time into a single UTC
// timestamp.  A zero time is returned when the start time does not
// parse, which only happens if the row was written outside the app.
func (t TimeSlot) StartsAt() time.Time {
	clock, err := time.Parse("15:04:05", t.StartTime)
	if err != nil {
		return time.Time{}
	}
	d := t.SlotDate
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}

// EndsAt combines the slot date and end time into a single UTC timestamp.
func (t TimeSlot) EndsAt() time.Time {
	clock, err := time.Parse("15:04:05", t.EndTime)
	if err != nil {
		return time.Time{}
	}
	d := t.SlotDate
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
}
