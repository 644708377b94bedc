package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/nkoval/studio-booking/internal/model"
)

// NotificationRepo serves the lifecycle notifier: it selects the rows
// whose trigger window has opened and whose marker is still unset, and
// it sets markers after the mail transport accepts a send.  Every mark
// statement is guarded by "marker IS NULL" so setting a marker is
// conditional, and a marker once set is never cleared.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo constructs a NotificationRepo bound to the given database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// LeadContact is a captured subscriber due the lead follow-up email.
type LeadContact struct {
	SubscriberID uint64
	Email        string
	FirstName    string
	OptedOut     bool
}

// BookingContact is a confirmed booking due a reminder or follow-up,
// with the opt-out flag joined in from the mailing list.  A recipient
// with no subscriber row has never opted out.
type BookingContact struct {
	BookingID    uint64
	Email        string
	FirstName    string
	SessionTitle string
	StartsAt     time.Time
	OptedOut     bool
}

// RebookCandidate pairs a newly published session with a recipient who
// attended an earlier session by the same instructor with the same
// title.
type RebookCandidate struct {
	SessionID    uint64
	Title        string
	StartsAt     time.Time
	Email        string
	FirstName    string
	Phone        string
	OptedOut     bool
}

// DueLeadFollowups returns passively captured subscribers acquired
// before the cutoff who never booked and have not yet received the lead
// follow-up.
func (r *NotificationRepo) DueLeadFollowups(ctx context.Context, cutoff time.Time) ([]LeadContact, error) {
	const q = `SELECT s.id, s.email, s.first_name, s.subscribed = 0
	           FROM subscribers s
	           WHERE s.source = ?
	             AND s.created_at <= ?
	             AND s.lead_followup_sent_at IS NULL
	             AND NOT EXISTS (
	               SELECT 1 FROM bookings b
	               WHERE b.guest_email = s.email OR (s.phone <> '' AND b.guest_phone = s.phone)
	             )`
	rows, err := r.db.QueryContext(ctx, q, model.SourceCapture, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LeadContact
	for rows.Next() {
		var c LeadContact
		if err := rows.Scan(&c.SubscriberID, &c.Email, &c.FirstName, &c.OptedOut); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkLeadFollowup records the lead follow-up as sent.  The IS NULL
// guard keeps the marker write conditional.
func (r *NotificationRepo) MarkLeadFollowup(ctx context.Context, subscriberID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscribers SET lead_followup_sent_at = UTC_TIMESTAMP()
		 WHERE id = ? AND lead_followup_sent_at IS NULL`, subscriberID)
	return err
}

// DuePreClassReminders returns confirmed bookings whose session starts
// within the next `window` and in the future, reminder not yet sent.
func (r *NotificationRepo) DuePreClassReminders(ctx context.Context, now time.Time, window time.Duration) ([]BookingContact, error) {
	const q = `SELECT b.id, b.guest_email, b.guest_first_name, s.title,
	                  TIMESTAMP(t.slot_date, t.start_time),
	                  COALESCE(sub.subscribed, 1) = 0
	           FROM bookings b
	           JOIN sessions s ON s.id = b.session_id
	           JOIN time_slots t ON t.id = s.time_slot_id
	           LEFT JOIN subscribers sub ON sub.email = b.guest_email
	           WHERE b.status = ?
	             AND b.pre_class_reminder_sent_at IS NULL
	             AND TIMESTAMP(t.slot_date, t.start_time) > ?
	             AND TIMESTAMP(t.slot_date, t.start_time) <= ?`
	nowStr := now.UTC().Format("2006-01-02 15:04:05")
	untilStr := now.UTC().Add(window).Format("2006-01-02 15:04:05")
	return r.queryBookingContacts(ctx, q, model.BookingConfirmed, nowStr, untilStr)
}

// MarkPreClassReminder records the reminder as sent.
func (r *NotificationRepo) MarkPreClassReminder(ctx context.Context, bookingID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET pre_class_reminder_sent_at = UTC_TIMESTAMP()
		 WHERE id = ? AND pre_class_reminder_sent_at IS NULL`, bookingID)
	return err
}

// DuePostClassFollowups returns confirmed bookings whose session ended
// (end time plus grace) before now, follow-up not yet sent.
func (r *NotificationRepo) DuePostClassFollowups(ctx context.Context, now time.Time, grace time.Duration) ([]BookingContact, error) {
	const q = `SELECT b.id, b.guest_email, b.guest_first_name, s.title,
	                  TIMESTAMP(t.slot_date, t.start_time),
	                  COALESCE(sub.subscribed, 1) = 0
	           FROM bookings b
	           JOIN sessions s ON s.id = b.session_id
	           JOIN time_slots t ON t.id = s.time_slot_id
	           LEFT JOIN subscribers sub ON sub.email = b.guest_email
	           WHERE b.status = ?
	             AND b.post_class_followup_sent_at IS NULL
	             AND TIMESTAMP(t.slot_date, t.end_time) < ?`
	cutoff := now.UTC().Add(-grace).Format("2006-01-02 15:04:05")
	return r.queryBookingContacts(ctx, q, model.BookingConfirmed, cutoff)
}

// MarkPostClassFollowup records the follow-up as sent.
func (r *NotificationRepo) MarkPostClassFollowup(ctx context.Context, bookingID uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET post_class_followup_sent_at = UTC_TIMESTAMP()
		 WHERE id = ? AND post_class_followup_sent_at IS NULL`, bookingID)
	return err
}

func (r *NotificationRepo) queryBookingContacts(ctx context.Context, q string, args ...interface{}) ([]BookingContact, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BookingContact
	for rows.Next() {
		var c BookingContact
		if err := rows.Scan(&c.BookingID, &c.Email, &c.FirstName, &c.SessionTitle, &c.StartsAt, &c.OptedOut); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DueRebookNudges pairs upcoming sessions with recipients who hold a
// confirmed booking for an earlier session by the same instructor with
// the same title (case-insensitive, trimmed).  Recipients already booked
// on the new session, or already nudged for it, are excluded.  Title
// reuse is a heuristic, not a foreign key; the per-(session, phone)
// marker bounds a misfire to a single email.
func (r *NotificationRepo) DueRebookNudges(ctx context.Context, now time.Time) ([]RebookCandidate, error) {
	const q = `SELECT DISTINCT s2.id, s2.title, TIMESTAMP(t2.slot_date, t2.start_time),
	                  b1.guest_email, b1.guest_first_name, b1.guest_phone,
	                  COALESCE(sub.subscribed, 1) = 0
	           FROM sessions s2
	           JOIN time_slots t2 ON t2.id = s2.time_slot_id
	           JOIN sessions s1 ON s1.instructor_id = s2.instructor_id
	                           AND s1.id <> s2.id
	                           AND LOWER(TRIM(s1.title)) = LOWER(TRIM(s2.title))
	           JOIN time_slots t1 ON t1.id = s1.time_slot_id
	           JOIN bookings b1 ON b1.session_id = s1.id AND b1.status = ?
	           LEFT JOIN subscribers sub ON sub.email = b1.guest_email
	           WHERE s2.status = ?
	             AND TIMESTAMP(t2.slot_date, t2.start_time) > ?
	             AND TIMESTAMP(t1.slot_date, t1.start_time) < TIMESTAMP(t2.slot_date, t2.start_time)
	             AND NOT EXISTS (
	               SELECT 1 FROM bookings b2
	               WHERE b2.session_id = s2.id AND b2.status = ? AND b2.guest_phone = b1.guest_phone
	             )
	             AND NOT EXISTS (
	               SELECT 1 FROM rebook_nudges rn
	               WHERE rn.session_id = s2.id AND rn.phone = b1.guest_phone
	             )`
	rows, err := r.db.QueryContext(ctx, q,
		model.BookingConfirmed, model.SessionScheduled,
		now.UTC().Format("2006-01-02 15:04:05"), model.BookingConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RebookCandidate
	for rows.Next() {
		var c RebookCandidate
		if err := rows.Scan(&c.SessionID, &c.Title, &c.StartsAt, &c.Email, &c.FirstName, &c.Phone, &c.OptedOut); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkRebookNudge inserts the per-(session, recipient) marker row.  The
// unique key on (session_id, phone) makes the insert idempotent.
func (r *NotificationRepo) MarkRebookNudge(ctx context.Context, sessionID uint64, phone, email string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO rebook_nudges (session_id, phone, email) VALUES (?, ?, ?)`,
		sessionID, phone, email)
	return err
}
