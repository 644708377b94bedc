package model

import "time"

// SubscriberSource records how an address entered the mailing list.
type SubscriberSource string

const (
	// SourceCapture marks addresses collected passively (landing page
	// signup).  Only captured subscribers are eligible for the lead
	// follow-up email.
	SourceCapture SubscriberSource = "CAPTURE"
	// SourceBooking marks addresses learned from a reservation.
	SourceBooking SubscriberSource = "BOOKING"
)

// Subscriber is a mailing-list entry.  Subscribed is the opt-out flag
// and is checked at send time on every notifier run; it is not a
// notification marker, so re-subscribing neither retroactively triggers
// past stages nor permanently blocks future ones.
//
// LeadFollowupSentAt is the one-shot marker for the lead follow-up
// stage.  Once set it is never cleared.
type Subscriber struct {
	ID                 uint64           // subscribers.id
	Email              string           // subscribers.email
	FirstName          string           // subscribers.first_name
	Phone              string           // subscribers.phone (normalized, may be empty)
	Source             SubscriberSource // subscribers.source
	Subscribed         bool             // subscribers.subscribed
	LeadFollowupSentAt *time.Time       // subscribers.lead_followup_sent_at
	CreatedAt          time.Time        // subscribers.created_at
}
