package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/service"
)

// WebhookHandler receives the payment processor's events.  The posted
// body is only trusted for its event id: the event is re-fetched from
// the processor's API before anything is written.  Completed charges
// are routed by metadata kind into either a card-paid reservation or a
// package purchase.
type WebhookHandler struct {
	Payments *payments.Client
	Bookings *service.BookingService
	Credits  *service.CreditService
}

func NewWebhookHandler(p *payments.Client, bookings *service.BookingService, credits *service.CreditService) *WebhookHandler {
	return &WebhookHandler{Payments: p, Bookings: bookings, Credits: credits}
}

type webhookReq struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// HandlePaymentEvent processes one processor event.  Always answers 200
// for events we deliberately ignore so the processor stops redelivering
// them; 500 only for transient failures worth a retry.
func (h *WebhookHandler) HandlePaymentEvent(c echo.Context) error {
	var req webhookReq
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Key != "charge.complete" {
		return c.NoContent(http.StatusOK)
	}

	ev, err := h.Payments.RetrieveEvent(req.ID)
	if err != nil {
		c.Logger().Errorf("webhook: retrieve event %s failed: %v", req.ID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "event retrieval failed"})
	}
	charge, err := payments.DecodeCharge(ev.Data)
	if err != nil {
		c.Logger().Errorf("webhook: decode charge for event %s failed: %v", req.ID, err)
		return c.NoContent(http.StatusOK)
	}
	if !charge.Paid {
		// Failed or expired charge: nothing was ever written, so there
		// is nothing to undo.
		return c.NoContent(http.StatusOK)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	kind, err := payments.Kind(charge.Metadata)
	if err != nil {
		// Charge from elsewhere in the account; not ours to handle.
		return c.NoContent(http.StatusOK)
	}
	switch kind {
	case payments.KindBooking:
		pb, err := payments.DecodeBooking(charge.Metadata)
		if err != nil {
			c.Logger().Errorf("webhook: charge %s has malformed booking metadata: %v", charge.ID, err)
			return c.NoContent(http.StatusOK)
		}
		if _, err := h.Bookings.ConfirmPaid(ctx, pb, charge.ID, uint32(charge.Amount)); err != nil {
			if isBookingConflict(err) {
				// Money moved but the seat is gone.  Log loudly for a
				// manual refund; retrying the webhook cannot help.
				c.Logger().Errorf("webhook: PAID charge %s could not be seated (session %d): %v — refund needed",
					charge.ID, pb.SessionID, err)
				return c.NoContent(http.StatusOK)
			}
			c.Logger().Errorf("webhook: confirm booking for charge %s failed: %v", charge.ID, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "confirm failed"})
		}
	case payments.KindPackage:
		pp, err := payments.DecodePurchase(charge.Metadata)
		if err != nil {
			c.Logger().Errorf("webhook: charge %s has malformed purchase metadata: %v", charge.ID, err)
			return c.NoContent(http.StatusOK)
		}
		if err := h.Credits.ConfirmPurchase(ctx, pp, charge.ID); err != nil {
			c.Logger().Errorf("webhook: record purchase for charge %s failed: %v", charge.ID, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "record failed"})
		}
	}
	return c.NoContent(http.StatusOK)
}

func isBookingConflict(err error) bool {
	return errors.Is(err, repository.ErrSessionFull) ||
		errors.Is(err, repository.ErrSessionClosed) ||
		errors.Is(err, repository.ErrDuplicateGuest) ||
		errors.Is(err, repository.ErrSessionNotFound)
}
