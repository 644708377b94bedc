package repository

import (
	"context"
	"database/sql"

	"github.com/nkoval/studio-booking/internal/model"
)

// PackageRepo manages persistence for credit packages and the
// append-only purchase ledger behind them.  Purchases are only recorded
// after the payment processor confirms the charge and are never mutated.
type PackageRepo struct {
	db *sql.DB
}

// NewPackageRepo constructs a PackageRepo bound to the given database.
func NewPackageRepo(db *sql.DB) *PackageRepo { return &PackageRepo{db: db} }

// Create inserts a new package definition for an instructor.
func (r *PackageRepo) Create(ctx context.Context, p *model.Package) error {
	const q = `INSERT INTO packages (instructor_id, name, class_count, price_cents, is_active)
	           VALUES (?, ?, ?, ?, 1)`
	res, err := r.db.ExecContext(ctx, q, p.InstructorID, p.Name, p.ClassCount, p.PriceCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.IsActive = true
	return nil
}

// GetByID loads a single package.
func (r *PackageRepo) GetByID(ctx context.Context, packageID uint64) (*model.Package, error) {
	const q = `SELECT id, instructor_id, name, class_count, price_cents, is_active, created_at
	           FROM packages WHERE id = ?`
	var p model.Package
	err := r.db.QueryRowContext(ctx, q, packageID).Scan(
		&p.ID, &p.InstructorID, &p.Name, &p.ClassCount, &p.PriceCents, &p.IsActive, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByInstructor returns an instructor's packages, active first.
func (r *PackageRepo) ListByInstructor(ctx context.Context, instructorID uint64, activeOnly bool) ([]model.Package, error) {
	q := `SELECT id, instructor_id, name, class_count, price_cents, is_active, created_at
	      FROM packages WHERE instructor_id = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY is_active DESC, created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, instructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Package, 0)
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.ID, &p.InstructorID, &p.Name, &p.ClassCount, &p.PriceCents, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Deactivate stops a package from being sold without touching credits
// already granted by past purchases.
func (r *PackageRepo) Deactivate(ctx context.Context, packageID, instructorID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE packages SET is_active = 0 WHERE id = ? AND instructor_id = ?`, packageID, instructorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var owner uint64
		err := r.db.QueryRowContext(ctx, `SELECT instructor_id FROM packages WHERE id = ?`, packageID).Scan(&owner)
		if err == sql.ErrNoRows {
			return ErrPackageNotFound
		}
		if err != nil {
			return err
		}
		if owner != instructorID {
			return ErrForbidden
		}
	}
	return nil
}

// RecordPurchase appends a credit grant.  Called from the payment
// webhook once the processor has confirmed the charge; the unique key on
// payment_ref makes webhook redelivery idempotent.  The class count is
// copied from the package so later package edits cannot alter an
// existing grant.
func (r *PackageRepo) RecordPurchase(ctx context.Context, pp *model.PackagePurchase) error {
	var classCount uint32
	err := r.db.QueryRowContext(ctx,
		`SELECT class_count FROM packages WHERE id = ?`, pp.PackageID).Scan(&classCount)
	if err == sql.ErrNoRows {
		return ErrPackageNotFound
	}
	if err != nil {
		return err
	}
	pp.ClassCount = classCount
	const q = `INSERT IGNORE INTO package_purchases
	           (package_id, user_id, buyer_phone, buyer_email, class_count, payment_ref)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		pp.PackageID, nullableID(pp.UserID), pp.BuyerPhone, pp.BuyerEmail, pp.ClassCount, pp.PaymentRef)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		pp.ID = uint64(id)
	}
	return nil
}

// Balance computes the identity's available credit for an instructor:
// total granted class counts minus non-cancelled credit-funded bookings.
// The identity union (account id OR phone) covers a guest who later
// created an account.
func (r *PackageRepo) Balance(ctx context.Context, instructorID uint64, userID *uint64, phone string) (int64, error) {
	uid := nullableID(userID)
	var granted int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(pp.class_count), 0)
		 FROM package_purchases pp
		 JOIN packages p ON p.id = pp.package_id
		 WHERE p.instructor_id = ? AND (pp.buyer_phone = ? OR (? IS NOT NULL AND pp.user_id = ?))`,
		instructorID, phone, uid, uid).Scan(&granted)
	if err != nil {
		return 0, err
	}
	var consumed int64
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		 FROM bookings b
		 JOIN sessions s ON s.id = b.session_id
		 WHERE s.instructor_id = ? AND b.payment_method = ? AND b.status = ?
		   AND (b.guest_phone = ? OR (? IS NOT NULL AND b.user_id = ?))`,
		instructorID, model.PayCredit, model.BookingConfirmed, phone, uid, uid).Scan(&consumed)
	if err != nil {
		return 0, err
	}
	balance := granted - consumed
	if balance < 0 {
		return 0, errInvariant("credit balance for instructor %d went negative (%d)", instructorID, balance)
	}
	return balance, nil
}
