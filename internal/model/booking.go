package model

import "time"

// BookingStatus enumerates the states of a reservation.  CONFIRMED is
// the only live state; CANCELLED is terminal.  There is no pending
// state: a paid reservation produces no row at all until the payment
// processor confirms.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingConfirmed: {BookingCancelled},
	BookingCancelled: {},
}

// CanTransition reports whether moving a booking from one status to
// another is allowed by the lifecycle table.
func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// PaymentMethod identifies how a reservation was funded.
type PaymentMethod string

const (
	PayFree   PaymentMethod = "FREE"   // free class or zero-value donation
	PayCredit PaymentMethod = "CREDIT" // redeemed one package credit
	PayCard   PaymentMethod = "CARD"   // confirmed by the payment processor
)

// Booking records a client's reservation against a session.  A person is
// identified either by an account id or by the (first, last, phone)
// guest triple; GuestPhone is always the normalized phone and backs the
// duplicate-guest guard.  Rows are never deleted: cancellation flips the
// status and preserves the notification markers.
//
// The two nullable marker timestamps gate the pre-class reminder and
// post-class follow-up emails.  A marker, once set, is never cleared.
type Booking struct {
	ID                     uint64        // bookings.id
	SessionID              uint64        // bookings.session_id
	UserID                 *uint64       // bookings.user_id (nullable for guests)
	GuestFirstName         string        // bookings.guest_first_name
	GuestLastName          string        // bookings.guest_last_name
	GuestPhone             string        // bookings.guest_phone (normalized)
	GuestEmail             string        // bookings.guest_email
	Status                 BookingStatus // bookings.status
	PaymentMethod          PaymentMethod // bookings.payment_method
	AmountCents            uint32        // bookings.amount_cents
	PaymentRef             *string       // bookings.payment_ref (processor charge id)
	PreClassReminderSentAt *time.Time    // bookings.pre_class_reminder_sent_at
	PostClassFollowupSent  *time.Time    // bookings.post_class_followup_sent_at
	CreatedAt              time.Time     // bookings.created_at
	CancelledAt            *time.Time    // bookings.cancelled_at
}

// CreditFunded reports whether the booking consumed a package credit and
// therefore must restore one on cancellation.
func (b Booking) CreditFunded() bool { return b.PaymentMethod == PayCredit }
