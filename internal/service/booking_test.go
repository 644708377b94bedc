package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/queue"
	"github.com/nkoval/studio-booking/internal/repository"
)

// memStore is an in-memory BookingStore/SessionStore/PackageStore that
// enforces the same guarded-write rules as the MySQL repositories:
// capacity and duplicate-phone checks inside one critical section, and
// credit redemption derived from grants minus live credit bookings.
type memStore struct {
	mu       sync.Mutex
	sessions map[uint64]*model.Session
	bookings map[uint64]*model.Booking
	granted  map[string]int64 // credits granted per phone
	nextID   uint64
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uint64]*model.Session),
		bookings: make(map[uint64]*model.Booking),
		granted:  make(map[string]int64),
	}
}

func (m *memStore) GetByID(ctx context.Context, sessionID uint64) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Reserve(ctx context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// One booking per processor charge, regardless of its status.
	if b.PaymentRef != nil {
		for _, ex := range m.bookings {
			if ex.PaymentRef != nil && *ex.PaymentRef == *b.PaymentRef {
				*b = *ex
				return nil
			}
		}
	}
	s, ok := m.sessions[b.SessionID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status != model.SessionScheduled {
		return repository.ErrSessionClosed
	}
	var confirmed uint32
	for _, ex := range m.bookings {
		if ex.SessionID != b.SessionID || ex.Status != model.BookingConfirmed {
			continue
		}
		confirmed++
		if ex.GuestPhone == b.GuestPhone {
			return repository.ErrDuplicateGuest
		}
	}
	if confirmed >= s.MaxCapacity {
		return repository.ErrSessionFull
	}
	if b.CreditFunded() && m.creditBalance(b.GuestPhone) <= 0 {
		return repository.ErrInsufficientCredit
	}
	m.nextID++
	b.ID = m.nextID
	b.Status = model.BookingConfirmed
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) creditBalance(phone string) int64 {
	consumed := int64(0)
	for _, ex := range m.bookings {
		if ex.GuestPhone == phone && ex.CreditFunded() && ex.Status == model.BookingConfirmed {
			consumed++
		}
	}
	return m.granted[phone] - consumed
}

func (m *memStore) Cancel(ctx context.Context, bookingID uint64) (*model.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, false, repository.ErrBookingNotFound
	}
	if b.Status == model.BookingCancelled {
		cp := *b
		return &cp, false, nil
	}
	b.Status = model.BookingCancelled
	now := time.Now().UTC()
	b.CancelledAt = &now
	cp := *b
	return &cp, b.CreditFunded(), nil
}

func (m *memStore) OwnerIdentity(ctx context.Context, bookingID uint64) (*uint64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, "", repository.ErrBookingNotFound
	}
	return b.UserID, b.GuestPhone, nil
}

type fakeCheckout struct {
	mu       sync.Mutex
	metadata []map[string]interface{}
	err      error
}

func (f *fakeCheckout) CreateCharge(amountCents int64, sourceID string, md map[string]interface{}) (*payments.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.metadata = append(f.metadata, md)
	return &payments.Checkout{ChargeID: "chrg_test", AuthorizeURI: "https://pay.example/authorize"}, nil
}

func seedSession(m *memStore, id uint64, price uint32, capacity uint32) {
	m.sessions[id] = &model.Session{
		ID:           id,
		InstructorID: 1,
		TimeSlotID:   id,
		Title:        "Vinyasa Flow",
		PriceCents:   price,
		MaxCapacity:  capacity,
		Status:       model.SessionScheduled,
	}
}

func guestInput(sessionID uint64, phone, email string) ReserveInput {
	return ReserveInput{
		SessionID: sessionID,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     phone,
		Email:     email,
	}
}

func TestReserveFreeSession(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	res, err := svc.Reserve(context.Background(), guestInput(1, "(555) 123-4567", "Ada@Example.com"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Booking == nil || res.Checkout != nil {
		t.Fatalf("expected immediate booking, got %+v", res)
	}
	if res.Booking.PaymentMethod != model.PayFree {
		t.Errorf("payment method = %s, want FREE", res.Booking.PaymentMethod)
	}
	if res.Booking.GuestPhone != "5551234567" {
		t.Errorf("phone not normalized: %q", res.Booking.GuestPhone)
	}
	if res.Booking.GuestEmail != "ada@example.com" {
		t.Errorf("email not lowercased: %q", res.Booking.GuestEmail)
	}
}

func TestReservePaidSessionOpensCheckout(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 2500, 10)
	co := &fakeCheckout{}
	svc := NewBookingService(store, nil, store, nil, co, nil)

	res, err := svc.Reserve(context.Background(), ReserveInput{
		SessionID: 1, FirstName: "Ada", Phone: "5551234567", Email: "ada@example.com", SourceID: "src_1",
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Checkout == nil || res.Booking != nil {
		t.Fatalf("expected checkout, got %+v", res)
	}
	if len(store.bookings) != 0 {
		t.Fatalf("paid path wrote %d bookings before confirmation", len(store.bookings))
	}
	pb, err := payments.DecodeBooking(co.metadata[0])
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if pb.SessionID != 1 || pb.Phone != "5551234567" {
		t.Errorf("metadata round-trip mismatch: %+v", pb)
	}
}

func TestReserveDonationZeroIsFree(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	store.sessions[1].IsDonation = true
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	res, err := svc.Reserve(context.Background(), guestInput(1, "5551234567", "ada@example.com"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Booking == nil || res.Booking.PaymentMethod != model.PayFree {
		t.Fatalf("zero donation should confirm as FREE, got %+v", res)
	}
}

func TestReserveClosedSession(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	store.sessions[1].Status = model.SessionCancelled
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	_, err := svc.Reserve(context.Background(), guestInput(1, "5551234567", "ada@example.com"))
	if !errors.Is(err, repository.ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
}

func TestReserveDuplicatePhone(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	if _, err := svc.Reserve(context.Background(), guestInput(1, "555-123-4567", "ada@example.com")); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Same phone, different formatting and email: still the same person.
	_, err := svc.Reserve(context.Background(), guestInput(1, "+1 (555) 123-4567", "other@example.com"))
	if !errors.Is(err, repository.ErrDuplicateGuest) {
		t.Fatalf("err = %v, want ErrDuplicateGuest", err)
	}
}

// TestReserveLastSeatRace fires many concurrent reservations at a
// session with limited capacity and verifies exactly capacity of them
// win.
func TestReserveLastSeatRace(t *testing.T) {
	const capacity = 3
	const contenders = 40

	store := newMemStore()
	seedSession(store, 1, 0, capacity)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := guestInput(1, phoneFor(i), "race@example.com")
			_, err := svc.Reserve(context.Background(), in)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, full int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrSessionFull):
			full++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != capacity {
		t.Errorf("wins = %d, want %d", wins, capacity)
	}
	if full != contenders-capacity {
		t.Errorf("full rejections = %d, want %d", full, contenders-capacity)
	}
}

func phoneFor(i int) string {
	return "55500" + string(rune('0'+i/10)) + string(rune('0'+i%10)) + "0000"
}

func TestCancelIdempotentAndAuthorized(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	res, err := svc.Reserve(context.Background(), guestInput(1, "5551234567", "ada@example.com"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	id := res.Booking.ID

	if _, err := svc.Cancel(context.Background(), id, nil, "5559999999"); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("cancel by stranger: err = %v, want ErrForbidden", err)
	}

	b, err := svc.Cancel(context.Background(), id, nil, "(555) 123-4567")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if b.Status != model.BookingCancelled {
		t.Errorf("status = %s, want CANCELLED", b.Status)
	}

	// Second cancel is a no-op, not an error.
	b2, err := svc.Cancel(context.Background(), id, nil, "5551234567")
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if b2.Status != model.BookingCancelled {
		t.Errorf("second cancel status = %s", b2.Status)
	}
}

// TestCreditConservation grants two credits and verifies redemption,
// exhaustion, and that a cancellation frees exactly one credit.
func TestCreditConservation(t *testing.T) {
	store := newMemStore()
	for i := uint64(1); i <= 4; i++ {
		seedSession(store, i, 3000, 10)
	}
	store.granted["5551234567"] = 2
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	in := guestInput(1, "5551234567", "ada@example.com")
	in.UseCredit = true

	res1, err := svc.Reserve(context.Background(), in)
	if err != nil {
		t.Fatalf("first credit reserve: %v", err)
	}
	if res1.Booking.PaymentMethod != model.PayCredit {
		t.Fatalf("payment method = %s, want CREDIT", res1.Booking.PaymentMethod)
	}

	in.SessionID = 2
	if _, err := svc.Reserve(context.Background(), in); err != nil {
		t.Fatalf("second credit reserve: %v", err)
	}

	in.SessionID = 3
	if _, err := svc.Reserve(context.Background(), in); !errors.Is(err, repository.ErrInsufficientCredit) {
		t.Fatalf("third credit reserve: err = %v, want ErrInsufficientCredit", err)
	}

	// Cancelling one credit booking restores exactly one credit.
	if _, err := svc.Cancel(context.Background(), res1.Booking.ID, nil, "5551234567"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := svc.Reserve(context.Background(), in); err != nil {
		t.Fatalf("reserve after restore: %v", err)
	}
	in.SessionID = 4
	if _, err := svc.Reserve(context.Background(), in); !errors.Is(err, repository.ErrInsufficientCredit) {
		t.Fatalf("balance must not grow past grants: err = %v", err)
	}
}

// TestCreditRaceAcrossSessions races credit redemptions for different
// sessions of the same instructor against a balance of one.  The
// capacity locks are per session so they cannot serialize this pair;
// only the redemption guard's own locking read can, and exactly one
// attempt may win.
func TestCreditRaceAcrossSessions(t *testing.T) {
	const contenders = 20

	store := newMemStore()
	for i := uint64(1); i <= contenders; i++ {
		seedSession(store, i, 3000, 10)
	}
	store.granted["5551234567"] = 1
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := uint64(1); i <= contenders; i++ {
		wg.Add(1)
		go func(sessionID uint64) {
			defer wg.Done()
			in := guestInput(sessionID, "5551234567", "ada@example.com")
			in.UseCredit = true
			_, err := svc.Reserve(context.Background(), in)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, broke int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrInsufficientCredit):
			broke++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1 for a balance of 1", wins)
	}
	if broke != contenders-1 {
		t.Errorf("insufficient-credit rejections = %d, want %d", broke, contenders-1)
	}
}

func TestConfirmPaidInsertsCardBooking(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 2500, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	b, err := svc.ConfirmPaid(context.Background(), payments.PendingBooking{
		Ref: "r1", SessionID: 1, FirstName: "Ada", Phone: "5551234567", Email: "ada@example.com",
	}, "chrg_abc", 2500)
	if err != nil {
		t.Fatalf("ConfirmPaid: %v", err)
	}
	if b.PaymentMethod != model.PayCard || b.PaymentRef == nil || *b.PaymentRef != "chrg_abc" {
		t.Errorf("card booking fields wrong: %+v", b)
	}
	if b.AmountCents != 2500 {
		t.Errorf("amount = %d, want 2500", b.AmountCents)
	}
}

// TestConfirmPaidRedeliveryAfterCancel replays a charge.complete event
// after the guest cancelled the booking it had produced.  The replay
// must find the existing row by charge id and stop; a consumed charge
// never seats a second booking.
func TestConfirmPaidRedeliveryAfterCancel(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 2500, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	pb := payments.PendingBooking{
		Ref: "r1", SessionID: 1, FirstName: "Ada", Phone: "5551234567", Email: "ada@example.com",
	}
	b, err := svc.ConfirmPaid(context.Background(), pb, "chrg_abc", 2500)
	if err != nil {
		t.Fatalf("ConfirmPaid: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), b.ID, nil, "5551234567"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	replayed, err := svc.ConfirmPaid(context.Background(), pb, "chrg_abc", 2500)
	if err != nil {
		t.Fatalf("redelivered ConfirmPaid: %v", err)
	}
	if replayed.ID != b.ID {
		t.Errorf("replay produced booking %d, want existing %d", replayed.ID, b.ID)
	}
	if replayed.Status != model.BookingCancelled {
		t.Errorf("replay status = %s, want the cancelled original", replayed.Status)
	}
	if len(store.bookings) != 1 {
		t.Fatalf("store holds %d bookings after replay, want 1", len(store.bookings))
	}
}

func TestReservePublishesConfirmedEvent(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	events := make(chan queue.BookingConfirmedEvent, 1)
	publish := func(ctx context.Context, ev queue.BookingConfirmedEvent) error {
		events <- ev
		return nil
	}
	svc := NewBookingService(store, nil, store, nil, nil, publish)

	res, err := svc.Reserve(context.Background(), guestInput(1, "5551234567", "ada@example.com"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	select {
	case ev := <-events:
		if ev.BookingID != res.Booking.ID || ev.SessionTitle != "Vinyasa Flow" {
			t.Errorf("event mismatch: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmed event never published")
	}
}

func TestReserveMissingContact(t *testing.T) {
	store := newMemStore()
	seedSession(store, 1, 0, 10)
	svc := NewBookingService(store, nil, store, nil, nil, nil)

	in := guestInput(1, "", "ada@example.com")
	if _, err := svc.Reserve(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
