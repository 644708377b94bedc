package model

import "time"

// SessionStatus enumerates the lifecycle states of a class offering.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionFinished  SessionStatus = "FINISHED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionCancelled, SessionFinished},
	SessionCancelled: {},
	SessionFinished:  {},
}

// CanTransition reports whether moving a session from one status to
// another is allowed by the lifecycle table.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, t := range sessionTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Session is a concrete class offering bound to exactly one time slot
// and owned by the instructor who created it.  The existence of a
// non-cancelled session for a slot is itself the claim on that slot.
//
// Fields:
//  ID          – primary key identifier.
//  InstructorID – owner; only this instructor may mutate the session.
//  TimeSlotID  – the claimed slot.
//  Title       – class title shown to clients; title reuse by the same
//                instructor drives the rebook nudge.
//  Description – optional longer blurb.
//  PriceCents  – price per seat in cents; zero means free.
//  IsDonation  – when true the price is a suggested donation and a
//                zero-value reservation is accepted directly.
//  MaxCapacity – hard cap on confirmed bookings.
//  SkillLevel  – free-form level tag (e.g. "beginner").
//  Status      – current lifecycle state.
type Session struct {
	ID           uint64        // sessions.id
	InstructorID uint64        // sessions.instructor_id
	TimeSlotID   uint64        // sessions.time_slot_id
	Title        string        // sessions.title
	Description  string        // sessions.description
	PriceCents   uint32        // sessions.price_cents
	IsDonation   bool          // sessions.is_donation
	MaxCapacity  uint32        // sessions.max_capacity
	SkillLevel   string        // sessions.skill_level
	Status       SessionStatus // sessions.status
	CreatedAt    time.Time     // sessions.created_at
	UpdatedAt    time.Time     // sessions.updated_at
}
