// Package service orchestrates reservations and credit purchases over
// the repositories.  Stores are consumed as narrow interfaces: the
// production implementations are the MySQL repositories, and the
// guarded-write contract they honor (serialized capacity checks,
// conditional credit redemption) is what the service's correctness
// leans on.
package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/queue"
	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/utils"
)

// ErrInvalidInput is returned when a request is missing required
// fields: contact identity on a reservation or purchase, slot/title/
// capacity on a session publish.
var ErrInvalidInput = errors.New("missing or invalid required fields")

// SessionStore reads class offerings.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID uint64) (*model.Session, error)
}

// SlotStore reads time slots for schedule details on outgoing events.
type SlotStore interface {
	GetByID(ctx context.Context, slotID uint64) (*model.TimeSlot, error)
}

// BookingStore owns the guarded reservation writes.  Reserve must
// enforce capacity, the duplicate-phone rule and credit redemption
// atomically; Cancel must be idempotent and report whether a credit was
// restored.
type BookingStore interface {
	Reserve(ctx context.Context, b *model.Booking) error
	Cancel(ctx context.Context, bookingID uint64) (*model.Booking, bool, error)
	OwnerIdentity(ctx context.Context, bookingID uint64) (*uint64, string, error)
}

// SubscriberStore records mailing-list entries learned from bookings.
type SubscriberStore interface {
	Upsert(ctx context.Context, s *model.Subscriber) error
}

// CheckoutStarter opens a charge with the payment processor.
type CheckoutStarter interface {
	CreateCharge(amountCents int64, sourceID string, metadata map[string]interface{}) (*payments.Checkout, error)
}

// EventPublisher dispatches a booking-confirmed event.  Failures are
// logged by the publisher and ignored here: side effects never block or
// roll back a reservation.
type EventPublisher func(ctx context.Context, ev queue.BookingConfirmedEvent) error

// BookingService drives the reservation lifecycle.
type BookingService struct {
	sessions    SessionStore
	slots       SlotStore
	bookings    BookingStore
	subscribers SubscriberStore
	checkout    CheckoutStarter
	publish     EventPublisher
}

// NewBookingService constructs a BookingService.  checkout and publish
// may be nil in contexts (tests, one-shot tools) that never take the
// paid path or dispatch events.
func NewBookingService(sessions SessionStore, slots SlotStore, bookings BookingStore, subscribers SubscriberStore, checkout CheckoutStarter, publish EventPublisher) *BookingService {
	return &BookingService{
		sessions:    sessions,
		slots:       slots,
		bookings:    bookings,
		subscribers: subscribers,
		checkout:    checkout,
		publish:     publish,
	}
}

// ReserveInput is a reservation request for a guest or account holder.
type ReserveInput struct {
	SessionID   uint64
	UserID      *uint64
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	UseCredit   bool
	AmountCents uint32 // donation amount; ignored for fixed-price sessions
	SourceID    string // payment source token, required only for paid checkouts
}

// ReserveResult carries either a confirmed booking or a checkout the
// client must complete.  Exactly one of the two is set.
type ReserveResult struct {
	Booking  *model.Booking
	Checkout *payments.Checkout
}

// Reserve places a reservation.  Credit and free reservations confirm
// immediately through the guarded insert; paid reservations open a
// checkout and write nothing until the processor's webhook confirms.
func (s *BookingService) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	in.Phone = utils.NormalizePhone(in.Phone)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.FirstName == "" || in.Phone == "" || in.Email == "" {
		return nil, ErrInvalidInput
	}

	sess, err := s.sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionScheduled {
		return nil, repository.ErrSessionClosed
	}

	if in.UseCredit {
		b := s.newBooking(in, model.PayCredit, 0, nil)
		if err := s.bookings.Reserve(ctx, b); err != nil {
			return nil, err
		}
		s.afterConfirm(sess, b)
		return &ReserveResult{Booking: b}, nil
	}

	amount := sess.PriceCents
	if sess.IsDonation {
		amount = in.AmountCents
	}
	if amount == 0 {
		b := s.newBooking(in, model.PayFree, 0, nil)
		if err := s.bookings.Reserve(ctx, b); err != nil {
			return nil, err
		}
		s.afterConfirm(sess, b)
		return &ReserveResult{Booking: b}, nil
	}

	// Paid path: the pending reservation lives entirely inside the
	// charge metadata.  An abandoned checkout therefore leaves nothing
	// behind to clean up.
	if s.checkout == nil {
		return nil, errors.New("payments not configured")
	}
	md := payments.EncodeBooking(payments.PendingBooking{
		Ref:       uuid.NewString(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		Email:     in.Email,
	})
	co, err := s.checkout.CreateCharge(int64(amount), in.SourceID, md)
	if err != nil {
		return nil, err
	}
	return &ReserveResult{Checkout: co}, nil
}

// ConfirmPaid completes a reservation the processor has confirmed.  It
// runs the same guarded insert as the direct paths; a session that
// filled up while the client was paying surfaces here as a conflict,
// which the webhook logs loudly since money has already moved.
func (s *BookingService) ConfirmPaid(ctx context.Context, pb payments.PendingBooking, chargeID string, amountCents uint32) (*model.Booking, error) {
	sess, err := s.sessions.GetByID(ctx, pb.SessionID)
	if err != nil {
		return nil, err
	}
	b := s.newBooking(ReserveInput{
		SessionID: pb.SessionID,
		UserID:    pb.UserID,
		FirstName: pb.FirstName,
		LastName:  pb.LastName,
		Phone:     pb.Phone,
		Email:     pb.Email,
	}, model.PayCard, amountCents, &chargeID)
	if err := s.bookings.Reserve(ctx, b); err != nil {
		return nil, err
	}
	// A redelivered event for a charge that was already seated comes
	// back as the existing row; if that booking has since been
	// cancelled, there is nothing to announce.
	if b.Status == model.BookingConfirmed && b.CancelledAt == nil {
		s.afterConfirm(sess, b)
	}
	return b, nil
}

// Cancel cancels a booking on behalf of the given identity.  Only the
// booking's account holder or the matching guest phone may cancel it.
// Cancelling twice is a no-op; a consumed credit is restored exactly
// once, by derivation in the store.
func (s *BookingService) Cancel(ctx context.Context, bookingID uint64, userID *uint64, phone string) (*model.Booking, error) {
	ownerID, ownerPhone, err := s.bookings.OwnerIdentity(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	allowed := false
	if userID != nil && ownerID != nil && *userID == *ownerID {
		allowed = true
	}
	if phone != "" && utils.NormalizePhone(phone) == ownerPhone {
		allowed = true
	}
	if !allowed {
		return nil, repository.ErrForbidden
	}
	b, _, err := s.bookings.Cancel(ctx, bookingID)
	return b, err
}

func (s *BookingService) newBooking(in ReserveInput, method model.PaymentMethod, amount uint32, payRef *string) *model.Booking {
	return &model.Booking{
		SessionID:      in.SessionID,
		UserID:         in.UserID,
		GuestFirstName: in.FirstName,
		GuestLastName:  in.LastName,
		GuestPhone:     in.Phone,
		GuestEmail:     in.Email,
		PaymentMethod:  method,
		AmountCents:    amount,
		PaymentRef:     payRef,
	}
}

// afterConfirm runs the fire-and-forget side effects of a confirmed
// reservation: the confirmation event and the mailing-list upsert.
// Neither may fail the reservation.
func (s *BookingService) afterConfirm(sess *model.Session, b *model.Booking) {
	startsAt := ""
	if s.slots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if slot, err := s.slots.GetByID(ctx, sess.TimeSlotID); err == nil {
			startsAt = slot.StartsAt().Format(time.RFC3339)
		}
		cancel()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if s.publish != nil {
			_ = s.publish(ctx, queue.BookingConfirmedEvent{
				BookingID:     b.ID,
				SessionID:     sess.ID,
				SessionTitle:  sess.Title,
				StartsAt:      startsAt,
				GuestName:     strings.TrimSpace(b.GuestFirstName + " " + b.GuestLastName),
				GuestEmail:    b.GuestEmail,
				PaymentMethod: string(b.PaymentMethod),
				AmountCents:   b.AmountCents,
				ConfirmedAt:   time.Now().UTC().Format(time.RFC3339),
			})
		}
		if s.subscribers != nil {
			if err := s.subscribers.Upsert(ctx, &model.Subscriber{
				Email:     b.GuestEmail,
				FirstName: b.GuestFirstName,
				Phone:     b.GuestPhone,
				Source:    model.SourceBooking,
			}); err != nil {
				log.Printf("booking %d: subscriber upsert failed: %v", b.ID, err)
			}
		}
	}()
}
