package model

import "time"

// Package defines a bundle of redeemable class credits sold by one
// instructor.  Credits from a purchase may be spent on any of that
// instructor's sessions.
type Package struct {
	ID           uint64    // packages.id
	InstructorID uint64    // packages.instructor_id
	Name         string    // packages.name
	ClassCount   uint32    // packages.class_count
	PriceCents   uint32    // packages.price_cents
	IsActive     bool      // packages.is_active
	CreatedAt    time.Time // packages.created_at
}

// PackagePurchase is an append-only credit grant.  A row is written only
// after the payment processor confirms the charge; the purchase is never
// mutated afterwards.  Available balance for an identity is the sum of
// purchased class counts minus the count of non-cancelled credit-funded
// bookings for the same instructor.
type PackagePurchase struct {
	ID         uint64    // package_purchases.id
	PackageID  uint64    // package_purchases.package_id
	UserID     *uint64   // package_purchases.user_id (nullable for guests)
	BuyerPhone string    // package_purchases.buyer_phone (normalized)
	BuyerEmail string    // package_purchases.buyer_email
	ClassCount uint32    // package_purchases.class_count (copied from the package at purchase time)
	PaymentRef string    // package_purchases.payment_ref (processor charge id)
	CreatedAt  time.Time // package_purchases.created_at
}
