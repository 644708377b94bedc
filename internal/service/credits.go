package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/utils"
)

// PackageStore manages credit packages and the append-only purchase
// ledger behind them.
type PackageStore interface {
	GetByID(ctx context.Context, packageID uint64) (*model.Package, error)
	RecordPurchase(ctx context.Context, pp *model.PackagePurchase) error
	Balance(ctx context.Context, instructorID uint64, userID *uint64, phone string) (int64, error)
}

// ErrPackageInactive is returned when a buyer attempts to purchase a
// package that is no longer on sale.
var ErrPackageInactive = errors.New("package is not for sale")

// CreditService sells packages and answers balance queries.  Purchases
// always go through a paid checkout: the grant row is only written once
// the processor's webhook confirms the charge.
type CreditService struct {
	packages PackageStore
	checkout CheckoutStarter
}

// NewCreditService constructs a CreditService.  checkout may be nil in
// contexts that never start a purchase.
func NewCreditService(packages PackageStore, checkout CheckoutStarter) *CreditService {
	return &CreditService{packages: packages, checkout: checkout}
}

// PurchaseInput identifies the buyer and the package.
type PurchaseInput struct {
	PackageID uint64
	UserID    *uint64
	FirstName string
	LastName  string
	Phone     string
	Email     string
	SourceID  string
}

// Purchase opens a checkout for a package.  Nothing is persisted here;
// the pending grant travels in the charge metadata and is recorded by
// the webhook.
func (s *CreditService) Purchase(ctx context.Context, in PurchaseInput) (*payments.Checkout, error) {
	in.Phone = utils.NormalizePhone(in.Phone)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Phone == "" || in.Email == "" {
		return nil, ErrInvalidInput
	}
	pkg, err := s.packages.GetByID(ctx, in.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageInactive
	}
	if s.checkout == nil {
		return nil, errors.New("payments not configured")
	}
	md := payments.EncodePurchase(payments.PendingPurchase{
		Ref:       uuid.NewString(),
		PackageID: pkg.ID,
		UserID:    in.UserID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Email:     in.Email,
	})
	return s.checkout.CreateCharge(int64(pkg.PriceCents), in.SourceID, md)
}

// ConfirmPurchase records the grant for a charge the processor has
// confirmed.  Safe to call again on webhook redelivery; the store's
// unique payment reference absorbs the duplicate.
func (s *CreditService) ConfirmPurchase(ctx context.Context, pp payments.PendingPurchase, chargeID string) error {
	return s.packages.RecordPurchase(ctx, &model.PackagePurchase{
		PackageID:  pp.PackageID,
		UserID:     pp.UserID,
		BuyerPhone: pp.Phone,
		BuyerEmail: pp.Email,
		PaymentRef: chargeID,
	})
}

// Balance reports the identity's remaining credits with an instructor.
func (s *CreditService) Balance(ctx context.Context, instructorID uint64, userID *uint64, phone string) (int64, error) {
	return s.packages.Balance(ctx, instructorID, userID, utils.NormalizePhone(phone))
}
