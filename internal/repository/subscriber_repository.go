package repository

import (
	"context"
	"database/sql"

	"github.com/nkoval/studio-booking/internal/model"
)

// SubscriberRepo manages the mailing list.  The subscribed flag is the
// opt-out gate checked at send time; it is deliberately not a
// notification marker and flips freely in both directions.
type SubscriberRepo struct {
	db *sql.DB
}

// NewSubscriberRepo constructs a SubscriberRepo bound to the given database.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

// Upsert inserts a subscriber or refreshes an existing row for the same
// email.  A passive capture never downgrades a BOOKING source, and
// re-subscribing flips the opt-out flag back on without touching the
// lead marker, so stages already past their window are not re-sent.
func (r *SubscriberRepo) Upsert(ctx context.Context, s *model.Subscriber) error {
	const q = `INSERT INTO subscribers (email, first_name, phone, source, subscribed)
	           VALUES (?, ?, ?, ?, 1)
	           ON DUPLICATE KEY UPDATE
	             first_name = IF(VALUES(first_name) <> '', VALUES(first_name), first_name),
	             phone = IF(VALUES(phone) <> '', VALUES(phone), phone),
	             source = IF(source = ?, source, VALUES(source)),
	             subscribed = 1`
	_, err := r.db.ExecContext(ctx, q, s.Email, s.FirstName, s.Phone, s.Source, model.SourceBooking)
	return err
}

// Unsubscribe flips the opt-out flag for an email address.  Unknown
// addresses are a no-op; unsubscribing must never error to the visitor.
func (r *SubscriberRepo) Unsubscribe(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscribers SET subscribed = 0 WHERE email = ?`, email)
	return err
}

// GetByEmail loads a subscriber row, or nil when none exists.
func (r *SubscriberRepo) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	const q = `SELECT id, email, first_name, phone, source, subscribed, lead_followup_sent_at, created_at
	           FROM subscribers WHERE email = ?`
	var s model.Subscriber
	var leadAt sql.NullTime
	err := r.db.QueryRowContext(ctx, q, email).Scan(
		&s.ID, &s.Email, &s.FirstName, &s.Phone, &s.Source, &s.Subscribed, &leadAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if leadAt.Valid {
		t := leadAt.Time
		s.LeadFollowupSentAt = &t
	}
	return &s, nil
}
