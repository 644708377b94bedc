package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/nkoval/studio-booking/internal/model"
)

// SessionRepo manages persistence for class offerings.  Creating a
// session and claiming its slot happen inside one transaction so a
// session can never exist for a slot that was not won first.
type SessionRepo struct {
	db    *sql.DB
	slots *SlotRepo
}

// NewSessionRepo constructs a SessionRepo.  The slot repository is
// needed because session creation drives the slot claim.
func NewSessionRepo(db *sql.DB, slots *SlotRepo) *SessionRepo {
	return &SessionRepo{db: db, slots: slots}
}

// Create claims the target slot and inserts the session atomically.  It
// returns ErrSlotUnavailable when another instructor operation claimed
// the slot first; the caller treats that as a recoverable conflict and
// prompts for a different slot.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := r.slots.TryClaimTx(ctx, tx, s.TimeSlotID, s.InstructorID); err != nil {
		return err
	}

	const q = `INSERT INTO sessions
	           (instructor_id, time_slot_id, title, description, price_cents, is_donation, max_capacity, skill_level, status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		s.InstructorID, s.TimeSlotID, s.Title, s.Description, s.PriceCents,
		s.IsDonation, s.MaxCapacity, s.SkillLevel, model.SessionScheduled,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	s.Status = model.SessionScheduled

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID loads a single session.
func (r *SessionRepo) GetByID(ctx context.Context, sessionID uint64) (*model.Session, error) {
	const q = `SELECT id, instructor_id, time_slot_id, title, description, price_cents,
	                  is_donation, max_capacity, skill_level, status, created_at, updated_at
	           FROM sessions WHERE id = ?`
	var s model.Session
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&s.ID, &s.InstructorID, &s.TimeSlotID, &s.Title, &s.Description, &s.PriceCents,
		&s.IsDonation, &s.MaxCapacity, &s.SkillLevel, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// OpenSession is the public listing row for an upcoming session: the
// offering plus its schedule and how many seats remain.
type OpenSession struct {
	ID             uint64    `json:"id"`
	InstructorID   uint64    `json:"instructor_id"`
	InstructorName string    `json:"instructor_name"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	SkillLevel     string    `json:"skill_level,omitempty"`
	PriceCents     uint32    `json:"price_cents"`
	IsDonation     bool      `json:"is_donation"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	SeatsLeft      int32     `json:"seats_left"`
}

// ListOpen returns scheduled future sessions with their remaining
// capacity.  The seat count here is informational only; the reserve path
// re-checks capacity under its own guard.
func (r *SessionRepo) ListOpen(ctx context.Context, now time.Time) ([]OpenSession, error) {
	const q = `SELECT s.id, s.instructor_id, CONCAT(u.first_name, ' ', u.last_name),
	                  s.title, s.description, s.skill_level, s.price_cents, s.is_donation,
	                  TIMESTAMP(t.slot_date, t.start_time), TIMESTAMP(t.slot_date, t.end_time),
	                  s.max_capacity - (SELECT COUNT(*) FROM bookings b WHERE b.session_id = s.id AND b.status = ?)
	           FROM sessions s
	           JOIN time_slots t ON t.id = s.time_slot_id
	           JOIN users u ON u.id = s.instructor_id
	           WHERE s.status = ? AND TIMESTAMP(t.slot_date, t.start_time) > ?
	           ORDER BY t.slot_date, t.start_time`
	rows, err := r.db.QueryContext(ctx, q, model.BookingConfirmed, model.SessionScheduled, now.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]OpenSession, 0)
	for rows.Next() {
		var o OpenSession
		if err := rows.Scan(&o.ID, &o.InstructorID, &o.InstructorName, &o.Title, &o.Description,
			&o.SkillLevel, &o.PriceCents, &o.IsDonation, &o.StartsAt, &o.EndsAt, &o.SeatsLeft); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Cancel transitions a session SCHEDULED -> CANCELLED, releases its slot
// and cancels every confirmed booking, all in one transaction.  Credits
// consumed by the cancelled bookings are restored implicitly because the
// balance derivation ignores cancelled rows.  It returns the bookings
// that were live before the cancellation so the caller can notify them.
func (r *SessionRepo) Cancel(ctx context.Context, sessionID, instructorID uint64) ([]model.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var owner uint64
	var slotID uint64
	var status model.SessionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT instructor_id, time_slot_id, status FROM sessions WHERE id = ? FOR UPDATE`, sessionID).
		Scan(&owner, &slotID, &status)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if owner != instructorID {
		return nil, ErrForbidden
	}
	if !status.CanTransition(model.SessionCancelled) {
		return nil, ErrConflict
	}

	// Snapshot the live bookings before flipping them.
	rows, err := tx.QueryContext(ctx,
		`SELECT id, session_id, user_id, guest_first_name, guest_last_name, guest_phone, guest_email,
		        status, payment_method, amount_cents, created_at
		 FROM bookings WHERE session_id = ? AND status = ?`, sessionID, model.BookingConfirmed)
	if err != nil {
		return nil, err
	}
	var affected []model.Booking
	for rows.Next() {
		var b model.Booking
		var userID sql.NullInt64
		if err := rows.Scan(&b.ID, &b.SessionID, &userID, &b.GuestFirstName, &b.GuestLastName,
			&b.GuestPhone, &b.GuestEmail, &b.Status, &b.PaymentMethod, &b.AmountCents, &b.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if userID.Valid {
			uid := uint64(userID.Int64)
			b.UserID = &uid
		}
		affected = append(affected, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ?`, model.SessionCancelled, sessionID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, cancelled_at = UTC_TIMESTAMP() WHERE session_id = ? AND status = ?`,
		model.BookingCancelled, sessionID, model.BookingConfirmed); err != nil {
		return nil, err
	}
	// The slot goes back to AVAILABLE now that no live session holds it.
	if _, err := tx.ExecContext(ctx,
		`UPDATE time_slots SET status = ? WHERE id = ? AND status = ?`,
		model.SlotAvailable, slotID, model.SlotClaimed); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return affected, nil
}

// FinishPast transitions scheduled sessions whose slot date has passed
// to FINISHED.  Run by the notifier sweep alongside slot completion.
func (r *SessionRepo) FinishPast(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions s JOIN time_slots t ON t.id = s.time_slot_id
		 SET s.status = ?
		 WHERE s.status = ? AND TIMESTAMP(t.slot_date, t.end_time) < ?`,
		model.SessionFinished, model.SessionScheduled, now.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
