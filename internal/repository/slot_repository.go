package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/nkoval/studio-booking/internal/model"
)

// SlotRepo manages persistence for time slots.  The claim transition is
// the single concurrency-critical operation here and is implemented as
// one conditional UPDATE guarded by the current status, never as a
// read-then-write pair.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo constructs a SlotRepo bound to the given database.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

// DB exposes the underlying sql.DB so callers can begin transactions
// spanning multiple repositories.
func (r *SlotRepo) DB() *sql.DB { return r.db }

// SlotPattern describes one recurring weekly interval used by schedule
// generation: a weekday offset from the week start plus start and end
// clock times in "HH:MM:SS" form.
type SlotPattern struct {
	Weekday   time.Weekday
	StartTime string
	EndTime   string
}

// GenerateSlots materializes time slots for an instructor across the
// given number of weeks starting at weekStart.  Generation is
// idempotent: the unique key on (instructor_id, slot_date, start_time)
// makes re-running the same pattern a no-op for rows already present.
// It returns the number of rows actually inserted.
func (r *SlotRepo) GenerateSlots(ctx context.Context, instructorID uint64, weekStart time.Time, pattern []SlotPattern, weeks int) (int64, error) {
	if len(pattern) == 0 || weeks <= 0 {
		return 0, nil
	}
	// Normalize weekStart to its Monday so weekday offsets are stable.
	ws := weekStart.UTC()
	ws = time.Date(ws.Year(), ws.Month(), ws.Day(), 0, 0, 0, 0, time.UTC)
	for ws.Weekday() != time.Monday {
		ws = ws.AddDate(0, 0, -1)
	}

	query := `INSERT IGNORE INTO time_slots (instructor_id, slot_date, start_time, end_time, status) VALUES `
	args := make([]interface{}, 0, len(pattern)*weeks*5)
	first := true
	for w := 0; w < weeks; w++ {
		for _, p := range pattern {
			offset := (int(p.Weekday) - int(time.Monday) + 7) % 7
			date := ws.AddDate(0, 0, w*7+offset)
			if !first {
				query += ","
			}
			first = false
			query += "(?, ?, ?, ?, ?)"
			args = append(args, instructorID, date.Format("2006-01-02"), p.StartTime, p.EndTime, model.SlotAvailable)
		}
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TryClaimTx transitions a slot AVAILABLE -> CLAIMED inside the caller's
// transaction.  The guard is part of the UPDATE itself so that two
// concurrent claims resolve to exactly one winner; the loser gets
// ErrSlotUnavailable and must re-query.  ErrForbidden is returned when
// the slot belongs to a different instructor.
func (r *SlotRepo) TryClaimTx(ctx context.Context, tx *sql.Tx, slotID, instructorID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE time_slots SET status = ? WHERE id = ? AND instructor_id = ? AND status = ?`,
		model.SlotClaimed, slotID, instructorID, model.SlotAvailable,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Lost the race or bad id: distinguish for the caller.
	var owner uint64
	var status model.SlotStatus
	err = tx.QueryRowContext(ctx, `SELECT instructor_id, status FROM time_slots WHERE id = ?`, slotID).
		Scan(&owner, &status)
	if err == sql.ErrNoRows {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	if owner != instructorID {
		return ErrForbidden
	}
	return ErrSlotUnavailable
}

// ReleaseTx returns a claimed slot to AVAILABLE inside the caller's
// transaction.  The release is only legal while no non-cancelled session
// references the slot; that side condition is folded into the UPDATE
// guard so the check and the write are one statement.
func (r *SlotRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, slotID, instructorID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE time_slots t SET t.status = ?
		 WHERE t.id = ? AND t.instructor_id = ? AND t.status = ?
		   AND NOT EXISTS (SELECT 1 FROM sessions s WHERE s.time_slot_id = t.id AND s.status <> ?)`,
		model.SlotAvailable, slotID, instructorID, model.SlotClaimed, model.SessionCancelled,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var owner uint64
	var status model.SlotStatus
	err = tx.QueryRowContext(ctx, `SELECT instructor_id, status FROM time_slots WHERE id = ?`, slotID).
		Scan(&owner, &status)
	if err == sql.ErrNoRows {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	if owner != instructorID {
		return ErrForbidden
	}
	if status != model.SlotClaimed {
		return ErrConflict
	}
	return ErrSlotReferenced
}

// Release runs ReleaseTx in its own transaction.
func (r *SlotRepo) Release(ctx context.Context, slotID, instructorID uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.ReleaseTx(ctx, tx, slotID, instructorID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetByID loads a single slot.
func (r *SlotRepo) GetByID(ctx context.Context, slotID uint64) (*model.TimeSlot, error) {
	const q = `SELECT id, instructor_id, slot_date, start_time, end_time, status, created_at
	           FROM time_slots WHERE id = ?`
	var s model.TimeSlot
	err := r.db.QueryRowContext(ctx, q, slotID).
		Scan(&s.ID, &s.InstructorID, &s.SlotDate, &s.StartTime, &s.EndTime, &s.Status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByInstructor returns an instructor's slots between two dates,
// ordered chronologically.
func (r *SlotRepo) ListByInstructor(ctx context.Context, instructorID uint64, from, to time.Time) ([]model.TimeSlot, error) {
	const q = `SELECT id, instructor_id, slot_date, start_time, end_time, status, created_at
	           FROM time_slots
	           WHERE instructor_id = ? AND slot_date >= ? AND slot_date < ?
	           ORDER BY slot_date, start_time`
	rows, err := r.db.QueryContext(ctx, q, instructorID, from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := make([]model.TimeSlot, 0)
	for rows.Next() {
		var s model.TimeSlot
		if err := rows.Scan(&s.ID, &s.InstructorID, &s.SlotDate, &s.StartTime, &s.EndTime, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// CompletePast sweeps slots whose date has passed to COMPLETED.  This
// covers never-claimed AVAILABLE slots too, so an expired slot cannot
// be claimed for a new offering.  Slots are never deleted.  Returns the
// number of slots transitioned.
func (r *SlotRepo) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE time_slots SET status = ? WHERE status IN (?, ?) AND slot_date < ?`,
		model.SlotCompleted, model.SlotAvailable, model.SlotClaimed, now.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
