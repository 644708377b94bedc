// Package queue defines message payloads exchanged over the message broker.
package queue

// BookingConfirmedEvent is published when a reservation is confirmed.
// It carries enough for downstream consumers to dispatch the
// confirmation email and write the audit line without querying the
// primary database.
type BookingConfirmedEvent struct {
	BookingID     uint64 `json:"booking_id"`
	SessionID     uint64 `json:"session_id"`
	SessionTitle  string `json:"session_title"`
	StartsAt      string `json:"starts_at"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	PaymentMethod string `json:"payment_method"`
	AmountCents   uint32 `json:"amount_cents"`
	ConfirmedAt   string `json:"confirmed_at"`
}
