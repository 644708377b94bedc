package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/repository"
)

type memPackageStore struct {
	mu        sync.Mutex
	packages  map[uint64]*model.Package
	purchases map[string]*model.PackagePurchase // keyed by payment ref
}

func newMemPackageStore() *memPackageStore {
	return &memPackageStore{
		packages:  make(map[uint64]*model.Package),
		purchases: make(map[string]*model.PackagePurchase),
	}
}

func (m *memPackageStore) GetByID(ctx context.Context, packageID uint64) (*model.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[packageID]
	if !ok {
		return nil, repository.ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPackageStore) RecordPurchase(ctx context.Context, pp *model.PackagePurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[pp.PackageID]
	if !ok {
		return repository.ErrPackageNotFound
	}
	if _, dup := m.purchases[pp.PaymentRef]; dup {
		return nil // same charge delivered twice
	}
	pp.ClassCount = p.ClassCount
	cp := *pp
	m.purchases[pp.PaymentRef] = &cp
	return nil
}

func (m *memPackageStore) Balance(ctx context.Context, instructorID uint64, userID *uint64, phone string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var granted int64
	for _, pp := range m.purchases {
		pkg := m.packages[pp.PackageID]
		if pkg.InstructorID == instructorID && pp.BuyerPhone == phone {
			granted += int64(pp.ClassCount)
		}
	}
	return granted, nil
}

func TestPurchaseOpensCheckoutWithMetadata(t *testing.T) {
	store := newMemPackageStore()
	store.packages[7] = &model.Package{ID: 7, InstructorID: 1, Name: "5-pack", ClassCount: 5, PriceCents: 10000, IsActive: true}
	co := &fakeCheckout{}
	svc := NewCreditService(store, co)

	checkout, err := svc.Purchase(context.Background(), PurchaseInput{
		PackageID: 7, FirstName: "Ada", LastName: "King", Phone: "555-123-4567", Email: "Ada@Example.com", SourceID: "src_1",
	})
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if checkout.AuthorizeURI == "" {
		t.Fatal("missing authorize URI")
	}
	pp, err := payments.DecodePurchase(co.metadata[0])
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if pp.PackageID != 7 || pp.Phone != "5551234567" || pp.Email != "ada@example.com" {
		t.Errorf("metadata mismatch: %+v", pp)
	}
	if pp.FirstName != "Ada" || pp.LastName != "King" {
		t.Errorf("buyer name missing from metadata: %+v", pp)
	}
	if len(store.purchases) != 0 {
		t.Fatal("purchase recorded before webhook confirmation")
	}
}

func TestPurchaseInactivePackage(t *testing.T) {
	store := newMemPackageStore()
	store.packages[7] = &model.Package{ID: 7, InstructorID: 1, ClassCount: 5, PriceCents: 10000, IsActive: false}
	svc := NewCreditService(store, &fakeCheckout{})

	_, err := svc.Purchase(context.Background(), PurchaseInput{
		PackageID: 7, Phone: "5551234567", Email: "ada@example.com",
	})
	if !errors.Is(err, ErrPackageInactive) {
		t.Fatalf("err = %v, want ErrPackageInactive", err)
	}
}

func TestConfirmPurchaseIdempotent(t *testing.T) {
	store := newMemPackageStore()
	store.packages[7] = &model.Package{ID: 7, InstructorID: 1, ClassCount: 5, PriceCents: 10000, IsActive: true}
	svc := NewCreditService(store, nil)

	pp := payments.PendingPurchase{Ref: "r1", PackageID: 7, Phone: "5551234567", Email: "ada@example.com"}
	if err := svc.ConfirmPurchase(context.Background(), pp, "chrg_1"); err != nil {
		t.Fatalf("ConfirmPurchase: %v", err)
	}
	// Webhook redelivery must not double-grant.
	if err := svc.ConfirmPurchase(context.Background(), pp, "chrg_1"); err != nil {
		t.Fatalf("redelivered ConfirmPurchase: %v", err)
	}
	bal, err := svc.Balance(context.Background(), 1, nil, "5551234567")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 5 {
		t.Errorf("balance = %d, want 5", bal)
	}
}
