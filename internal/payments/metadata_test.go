package payments

import (
	"encoding/json"
	"testing"
)

// roundTrip pushes metadata through JSON the way a processor does
// before echoing it back on the completion event.
func roundTrip(t *testing.T, md map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(md)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestBookingMetadataRoundTrip(t *testing.T) {
	uid := uint64(42)
	in := PendingBooking{
		Ref:       "8d6f2c",
		SessionID: 77,
		UserID:    &uid,
		FirstName: "Dana",
		LastName:  "Reyes",
		Phone:     "5551234567",
		Email:     "dana@example.com",
	}
	got, err := DecodeBooking(roundTrip(t, EncodeBooking(in)))
	if err != nil {
		t.Fatalf("DecodeBooking: %v", err)
	}
	if got.SessionID != in.SessionID || got.Phone != in.Phone || got.Email != in.Email {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.UserID == nil || *got.UserID != uid {
		t.Errorf("user id lost: got %v", got.UserID)
	}
}

func TestBookingMetadataGuest(t *testing.T) {
	in := PendingBooking{
		Ref:       "aa01",
		SessionID: 3,
		FirstName: "Sam",
		LastName:  "Ott",
		Phone:     "5550001111",
		Email:     "sam@example.com",
	}
	got, err := DecodeBooking(roundTrip(t, EncodeBooking(in)))
	if err != nil {
		t.Fatalf("DecodeBooking: %v", err)
	}
	if got.UserID != nil {
		t.Errorf("guest booking must decode with nil user id, got %v", *got.UserID)
	}
}

func TestDecodeRejectsForeignCharges(t *testing.T) {
	if _, err := DecodeBooking(map[string]interface{}{"order": "123"}); err != ErrUnknownKind {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := DecodePurchase(EncodeBooking(PendingBooking{SessionID: 1, Phone: "5", Email: "e"})); err != ErrUnknownKind {
		t.Errorf("purchase decoder must reject booking metadata, got %v", err)
	}
}

func TestPurchaseMetadataRoundTrip(t *testing.T) {
	in := PendingPurchase{Ref: "bb02", PackageID: 9, FirstName: "Kim", LastName: "Vo", Phone: "5552223333", Email: "kim@example.com"}
	got, err := DecodePurchase(roundTrip(t, EncodePurchase(in)))
	if err != nil {
		t.Fatalf("DecodePurchase: %v", err)
	}
	if got.PackageID != 9 || got.Email != in.Email {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.FirstName != "Kim" || got.LastName != "Vo" {
		t.Errorf("buyer name lost in round trip: got %+v", got)
	}
}
