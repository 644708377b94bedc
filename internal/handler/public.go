package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/service"
	"github.com/nkoval/studio-booking/internal/utils"
)

// PublicHandler serves the guest-or-account endpoints: browsing open
// sessions, reserving, cancelling, package purchases, balances and the
// mailing list.
type PublicHandler struct {
	Sessions    *repository.SessionRepo
	Bookings    *service.BookingService
	Credits     *service.CreditService
	Subscribers *repository.SubscriberRepo
	Lookup      *repository.BookingRepo
}

func NewPublicHandler(sessions *repository.SessionRepo, bookings *service.BookingService,
	credits *service.CreditService, subscribers *repository.SubscriberRepo, lookup *repository.BookingRepo) *PublicHandler {
	return &PublicHandler{Sessions: sessions, Bookings: bookings, Credits: credits, Subscribers: subscribers, Lookup: lookup}
}

// ----- DTOs -----

type reserveReq struct {
	SessionID   uint64 `json:"session_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	UseCredit   bool   `json:"use_credit"`
	AmountCents uint32 `json:"amount_cents"`
	SourceID    string `json:"source_id"`
}

type cancelBookingReq struct {
	Phone string `json:"phone"`
}

type purchaseReq struct {
	PackageID uint64 `json:"package_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	SourceID  string `json:"source_id"`
}

type subscribeReq struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	Phone     string `json:"phone"`
}

// ListOpenSessions returns upcoming scheduled sessions with remaining
// seats.  Public, no auth.
func (h *PublicHandler) ListOpenSessions(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sessions, err := h.Sessions.ListOpen(ctx, time.Now())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// Reserve places a reservation.  A confirmed booking comes back as 201;
// a paid reservation returns 202 with the checkout the client must
// complete.
func (h *PublicHandler) Reserve(c echo.Context) error {
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Bookings.Reserve(ctx, service.ReserveInput{
		SessionID:   req.SessionID,
		UserID:      optionalUserID(c),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		Email:       req.Email,
		UseCredit:   req.UseCredit,
		AmountCents: req.AmountCents,
		SourceID:    req.SourceID,
	})
	if err != nil {
		return fail(c, err)
	}
	if res.Checkout != nil {
		return c.JSON(http.StatusAccepted, res.Checkout)
	}
	return c.JSON(http.StatusCreated, res.Booking)
}

// CancelBooking cancels a reservation.  An authenticated client is
// matched by account; a guest proves ownership with the booking phone.
func (h *PublicHandler) CancelBooking(c echo.Context) error {
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var req cancelBookingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := h.Bookings.Cancel(ctx, bookingID, optionalUserID(c), req.Phone)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// MyBookings lists the caller's bookings: by account when
// authenticated, by ?phone= otherwise.
func (h *PublicHandler) MyBookings(c echo.Context) error {
	userID := optionalUserID(c)
	phone := utils.NormalizePhone(c.QueryParam("phone"))
	if userID == nil && phone == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "phone required for guest lookup"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Lookup.ListForIdentity(ctx, userID, phone)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Purchase opens a checkout for a credit package.
func (h *PublicHandler) Purchase(c echo.Context) error {
	var req purchaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	checkout, err := h.Credits.Purchase(ctx, service.PurchaseInput{
		PackageID: req.PackageID,
		UserID:    optionalUserID(c),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		SourceID:  req.SourceID,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, checkout)
}

// Balance reports remaining credits with one instructor, looked up by
// account or ?phone=.
func (h *PublicHandler) Balance(c echo.Context) error {
	instructorID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instructor id"})
	}
	userID := optionalUserID(c)
	phone := c.QueryParam("phone")
	if userID == nil && phone == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "phone required for guest lookup"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	balance, err := h.Credits.Balance(ctx, instructorID, userID, phone)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"instructor_id": instructorID, "balance": balance})
}

// Subscribe adds an address to the mailing list as a captured lead.
func (h *PublicHandler) Subscribe(c echo.Context) error {
	var req subscribeReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	existing, err := h.Subscribers.GetByEmail(ctx, email)
	if err != nil {
		return fail(c, err)
	}
	err = h.Subscribers.Upsert(ctx, &model.Subscriber{
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		Phone:     utils.NormalizePhone(req.Phone),
		Source:    model.SourceCapture,
	})
	if err != nil {
		return fail(c, err)
	}
	if existing != nil {
		return c.JSON(http.StatusOK, echo.Map{"subscribed": true})
	}
	return c.JSON(http.StatusCreated, echo.Map{"subscribed": true})
}

// Unsubscribe flips the opt-out flag.  Honored at send time by every
// notifier rule.
func (h *PublicHandler) Unsubscribe(c echo.Context) error {
	email := strings.ToLower(strings.TrimSpace(c.QueryParam("email")))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Subscribers.Unsubscribe(ctx, email); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"subscribed": false})
}
