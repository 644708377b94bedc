// Package payments wraps the Omise client.  The processor is an opaque
// collaborator: the core hands it an amount plus metadata and later
// receives an async "charge complete" event carrying the metadata back.
// Everything needed to reconstruct the pending reservation or package
// purchase travels in that metadata; no local pending row exists.
package payments

import (
	"encoding/json"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/nkoval/studio-booking/internal/config"
)

// Client is a thin wrapper over the Omise API client.
type Client struct {
	omc *omise.Client
	cfg config.PaymentConfig
}

// New constructs a payments client from the payment configuration.
func New(cfg config.PaymentConfig) (*Client, error) {
	omc, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	return &Client{omc: omc, cfg: cfg}, nil
}

// Checkout is the result handed back to the browser: the processor's
// authorize URI to redirect to, and the charge id for correlation.
type Checkout struct {
	ChargeID     string `json:"charge_id"`
	AuthorizeURI string `json:"authorize_uri"`
}

// CreateCharge opens a charge with the processor.  sourceID is the
// payment source token collected client-side; metadata is echoed back on
// the completion event.  No booking or purchase row is written here —
// the webhook does that only after the processor confirms.
func (c *Client) CreateCharge(amountCents int64, sourceID string, metadata map[string]interface{}) (*Checkout, error) {
	charge := &omise.Charge{}
	err := c.omc.Do(charge, &operations.CreateCharge{
		Amount:    amountCents,
		Currency:  c.cfg.Currency,
		Source:    sourceID,
		ReturnURI: c.cfg.ReturnURI,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}
	return &Checkout{ChargeID: charge.ID, AuthorizeURI: charge.AuthorizeURI}, nil
}

// RetrieveEvent re-fetches a webhook event from the processor.  The
// webhook body alone is never trusted; only the event as served by the
// processor's API is.
func (c *Client) RetrieveEvent(eventID string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := c.omc.Do(ev, &operations.RetrieveEvent{EventID: eventID}); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeCharge converts the loosely typed event payload back into a
// Charge.
func DecodeCharge(data interface{}) (*omise.Charge, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var ch omise.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}
