package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/nkoval/studio-booking/internal/model"
)

// BookingRepo manages persistence for reservations.  Reserve is the
// concurrency-critical path: the capacity check, the duplicate-guest
// check, the optional credit redemption and the insert all execute under
// a row lock on the session so that concurrent attempts for the same
// session are serialized at the database, not in application code.  An
// in-process mutex would not survive a multi-process deployment.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo constructs a BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying sql.DB.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// Reserve inserts a confirmed booking, enforcing the session capacity
// and the one-booking-per-phone rule.  When b.PaymentMethod is CREDIT it
// also redeems one package credit in the same transaction, failing with
// ErrInsufficientCredit if the identity's derived balance is empty.
//
// The SELECT ... FOR UPDATE on the session row is what makes two
// concurrent reservations for the last seat resolve to exactly one
// winner: the loser blocks until the winner commits, then re-reads a
// count that already includes the winner's row.
func (r *BookingRepo) Reserve(ctx context.Context, b *model.Booking) error {
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

	// A paid reservation is keyed by its processor charge.  Webhook
	// redelivery, even long after the original booking was cancelled,
	// must find the existing row and stop instead of seating the same
	// charge twice; the unique key on payment_ref backs this check
	// against concurrent redelivery.
	if b.PaymentRef != nil {
		var existingID uint64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM bookings WHERE payment_ref = ? FOR UPDATE`, *b.PaymentRef).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			existing, err := getBookingTx(ctx, tx, existingID, false)
			if err != nil {
				return err
			}
			*b = *existing
			if err := tx.Commit(); err != nil {
				return err
			}
			committed = true
			return nil
		}
	}

	var instructorID uint64
	var status model.SessionStatus
	var maxCapacity uint32
	err = tx.QueryRowContext(ctx,
		`SELECT instructor_id, status, max_capacity FROM sessions WHERE id = ? FOR UPDATE`,
		b.SessionID).Scan(&instructorID, &status, &maxCapacity)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if status != model.SessionScheduled {
		return ErrSessionClosed
	}

	var confirmed uint32
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE session_id = ? AND status = ?`,
		b.SessionID, model.BookingConfirmed).Scan(&confirmed)
	if err != nil {
		return err
	}
	if confirmed > maxCapacity {
		// The guard should make this unreachable; if it trips, the
		// capacity invariant is broken and that is a bug, not user error.
		return errInvariant("session %d has %d confirmed bookings over capacity %d", b.SessionID, confirmed, maxCapacity)
	}
	if confirmed >= maxCapacity {
		return ErrSessionFull
	}

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE session_id = ? AND status = ? AND guest_phone = ?`,
		b.SessionID, model.BookingConfirmed, b.GuestPhone).Scan(&dup)
	if err != nil {
		return err
	}
	if dup > 0 {
		return ErrDuplicateGuest
	}

	if b.CreditFunded() {
		if err := redeemCreditTx(ctx, tx, instructorID, b.UserID, b.GuestPhone); err != nil {
			return err
		}
	}

	const ins = `INSERT INTO bookings
	             (session_id, user_id, guest_first_name, guest_last_name, guest_phone, guest_email,
	              status, payment_method, amount_cents, payment_ref)
	             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins,
		b.SessionID, nullableID(b.UserID), b.GuestFirstName, b.GuestLastName, b.GuestPhone, b.GuestEmail,
		model.BookingConfirmed, b.PaymentMethod, b.AmountCents, b.PaymentRef,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.Status = model.BookingConfirmed

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// redeemCreditTx checks the identity's derived balance for the
// instructor and fails with ErrInsufficientCredit when empty.  Locking
// the identity's purchase rows serializes concurrent redemptions of the
// same balance, so two bookings racing on balance=1 cannot both pass.
// The redemption itself is the confirmed credit-funded booking row the
// caller is about to insert; no separate ledger row exists, which is
// also why cancelling that booking restores the credit for free.
func redeemCreditTx(ctx context.Context, tx *sql.Tx, instructorID uint64, userID *uint64, phone string) error {
	uid := nullableID(userID)
	var granted uint32
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pp.class_count), 0)
		 FROM package_purchases pp
		 JOIN packages p ON p.id = pp.package_id
		 WHERE p.instructor_id = ? AND (pp.buyer_phone = ? OR (? IS NOT NULL AND pp.user_id = ?))
		 FOR UPDATE`,
		instructorID, phone, uid, uid).Scan(&granted)
	if err != nil {
		return err
	}
	// The consumed count must be a locking read.  A plain SELECT here
	// would read this transaction's REPEATABLE READ snapshot, which was
	// pinned before we blocked on the purchase-row lock above — so a
	// redemption that committed while we waited would be invisible and
	// two racing bookings could both pass on a balance of one.  FOR
	// UPDATE forces a current read of the latest committed rows.
	var consumed uint32
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM bookings b
		 JOIN sessions s ON s.id = b.session_id
		 WHERE s.instructor_id = ? AND b.payment_method = ? AND b.status = ?
		   AND (b.guest_phone = ? OR (? IS NOT NULL AND b.user_id = ?))
		 FOR UPDATE`,
		instructorID, model.PayCredit, model.BookingConfirmed, phone, uid, uid).Scan(&consumed)
	if err != nil {
		return err
	}
	if granted <= consumed {
		return ErrInsufficientCredit
	}
	return nil
}

// Cancel flips a confirmed booking to CANCELLED.  Cancelling an already
// cancelled booking is a no-op and reports restored=false, so a credit
// is never restored twice.  Rows are never deleted: the notification
// markers on the row keep resend idempotency across cancellations.
func (r *BookingRepo) Cancel(ctx context.Context, bookingID uint64) (*model.Booking, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	b, err := getBookingTx(ctx, tx, bookingID, true)
	if err != nil {
		return nil, false, err
	}
	if b.Status == model.BookingCancelled {
		// Idempotent: nothing to do, nothing restored.
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		committed = true
		return b, false, nil
	}
	if !b.Status.CanTransition(model.BookingCancelled) {
		return nil, false, ErrConflict
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?`,
		model.BookingCancelled, now.Format("2006-01-02 15:04:05"), bookingID, model.BookingConfirmed); err != nil {
		return nil, false, err
	}
	b.Status = model.BookingCancelled
	b.CancelledAt = &now

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	committed = true
	// A credit-funded booking's consumption no longer counts once
	// cancelled, so the credit is restored by derivation.
	return b, b.CreditFunded(), nil
}

// GetByID loads a single booking.
func (r *BookingRepo) GetByID(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	b, err := getBookingTx(ctx, tx, bookingID, false)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return b, tx.Commit()
}

func getBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64, forUpdate bool) (*model.Booking, error) {
	q := `SELECT id, session_id, user_id, guest_first_name, guest_last_name, guest_phone, guest_email,
	             status, payment_method, amount_cents, payment_ref,
	             pre_class_reminder_sent_at, post_class_followup_sent_at, created_at, cancelled_at
	      FROM bookings WHERE id = ?`
	if forUpdate {
		q += " FOR UPDATE"
	}
	var b model.Booking
	var userID sql.NullInt64
	var payRef sql.NullString
	var preAt, postAt, cancelledAt sql.NullTime
	err := tx.QueryRowContext(ctx, q, bookingID).Scan(
		&b.ID, &b.SessionID, &userID, &b.GuestFirstName, &b.GuestLastName, &b.GuestPhone, &b.GuestEmail,
		&b.Status, &b.PaymentMethod, &b.AmountCents, &payRef,
		&preAt, &postAt, &b.CreatedAt, &cancelledAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		uid := uint64(userID.Int64)
		b.UserID = &uid
	}
	if payRef.Valid {
		ref := payRef.String
		b.PaymentRef = &ref
	}
	if preAt.Valid {
		t := preAt.Time
		b.PreClassReminderSentAt = &t
	}
	if postAt.Valid {
		t := postAt.Time
		b.PostClassFollowupSent = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

// RosterEntry is one attendee row on an instructor's session roster.
type RosterEntry struct {
	BookingID     uint64              `json:"booking_id"`
	FirstName     string              `json:"first_name"`
	LastName      string              `json:"last_name"`
	Phone         string              `json:"phone"`
	Email         string              `json:"email"`
	Status        model.BookingStatus `json:"status"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	CreatedAt     time.Time           `json:"created_at"`
}

// RosterForSession lists every booking for a session, newest first, after
// verifying the caller owns the session.
func (r *BookingRepo) RosterForSession(ctx context.Context, sessionID, instructorID uint64) ([]RosterEntry, error) {
	var owner uint64
	err := r.db.QueryRowContext(ctx, `SELECT instructor_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if owner != instructorID {
		return nil, ErrForbidden
	}
	const q = `SELECT id, guest_first_name, guest_last_name, guest_phone, guest_email,
	                  status, payment_method, created_at
	           FROM bookings WHERE session_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]RosterEntry, 0)
	for rows.Next() {
		var e RosterEntry
		if err := rows.Scan(&e.BookingID, &e.FirstName, &e.LastName, &e.Phone, &e.Email,
			&e.Status, &e.PaymentMethod, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListForIdentity returns bookings for an account id or normalized
// phone, newest first, with the session title and start time joined in.
type BookingDetail struct {
	ID            uint64              `json:"id"`
	SessionID     uint64              `json:"session_id"`
	SessionTitle  string              `json:"session_title"`
	StartsAt      time.Time           `json:"starts_at"`
	Status        model.BookingStatus `json:"status"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	AmountCents   uint32              `json:"amount_cents"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ListForIdentity unions account id and phone so a guest who later
// registered still sees their older bookings.
func (r *BookingRepo) ListForIdentity(ctx context.Context, userID *uint64, phone string) ([]BookingDetail, error) {
	uid := nullableID(userID)
	const q = `SELECT b.id, b.session_id, s.title, TIMESTAMP(t.slot_date, t.start_time),
	                  b.status, b.payment_method, b.amount_cents, b.created_at
	           FROM bookings b
	           JOIN sessions s ON s.id = b.session_id
	           JOIN time_slots t ON t.id = s.time_slot_id
	           WHERE b.guest_phone = ? OR (? IS NOT NULL AND b.user_id = ?)
	           ORDER BY b.created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, phone, uid, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]BookingDetail, 0)
	for rows.Next() {
		var d BookingDetail
		if err := rows.Scan(&d.ID, &d.SessionID, &d.SessionTitle, &d.StartsAt,
			&d.Status, &d.PaymentMethod, &d.AmountCents, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OwnerIdentity returns the booking's user id and phone so handlers can
// authorize a cancellation request.
func (r *BookingRepo) OwnerIdentity(ctx context.Context, bookingID uint64) (*uint64, string, error) {
	var userID sql.NullInt64
	var phone string
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, guest_phone FROM bookings WHERE id = ?`, bookingID).Scan(&userID, &phone)
	if err == sql.ErrNoRows {
		return nil, "", ErrBookingNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if userID.Valid {
		uid := uint64(userID.Int64)
		return &uid, phone, nil
	}
	return nil, phone, nil
}

func nullableID(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
