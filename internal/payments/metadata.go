package payments

import (
	"errors"
	"fmt"
	"strconv"
)

// Charge metadata keys.  The "kind" key routes the webhook: a completed
// charge either confirms a pending reservation or records a package
// purchase.
const (
	KindBooking = "booking"
	KindPackage = "package"

	keyKind      = "kind"
	keyRef       = "ref"
	keySessionID = "session_id"
	keyPackageID = "package_id"
	keyUserID    = "user_id"
	keyFirstName = "first_name"
	keyLastName  = "last_name"
	keyPhone     = "phone"
	keyEmail     = "email"
)

// ErrUnknownKind is returned when charge metadata carries no recognized
// kind; such charges did not originate here and are ignored.
var ErrUnknownKind = errors.New("unknown charge kind")

// PendingBooking is a reservation awaiting payment confirmation.  It
// exists only inside charge metadata until the webhook lands.
type PendingBooking struct {
	Ref       string
	SessionID uint64
	UserID    *uint64
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

// PendingPurchase is a package purchase awaiting payment confirmation.
type PendingPurchase struct {
	Ref       string
	PackageID uint64
	UserID    *uint64
	FirstName string
	LastName  string
	Phone     string
	Email     string
}

// EncodeBooking flattens a pending reservation into charge metadata.
func EncodeBooking(p PendingBooking) map[string]interface{} {
	md := map[string]interface{}{
		keyKind:      KindBooking,
		keyRef:       p.Ref,
		keySessionID: strconv.FormatUint(p.SessionID, 10),
		keyFirstName: p.FirstName,
		keyLastName:  p.LastName,
		keyPhone:     p.Phone,
		keyEmail:     p.Email,
	}
	if p.UserID != nil {
		md[keyUserID] = strconv.FormatUint(*p.UserID, 10)
	}
	return md
}

// EncodePurchase flattens a pending package purchase into charge metadata.
func EncodePurchase(p PendingPurchase) map[string]interface{} {
	md := map[string]interface{}{
		keyKind:      KindPackage,
		keyRef:       p.Ref,
		keyPackageID: strconv.FormatUint(p.PackageID, 10),
		keyFirstName: p.FirstName,
		keyLastName:  p.LastName,
		keyPhone:     p.Phone,
		keyEmail:     p.Email,
	}
	if p.UserID != nil {
		md[keyUserID] = strconv.FormatUint(*p.UserID, 10)
	}
	return md
}

// Kind extracts the charge kind from metadata.
func Kind(md map[string]interface{}) (string, error) {
	k, _ := md[keyKind].(string)
	switch k {
	case KindBooking, KindPackage:
		return k, nil
	}
	return "", ErrUnknownKind
}

// DecodeBooking reconstructs a pending reservation from charge metadata.
// All values round-trip as strings because processors re-serialize
// metadata as JSON, which would otherwise turn ids into floats.
func DecodeBooking(md map[string]interface{}) (PendingBooking, error) {
	var p PendingBooking
	if k, err := Kind(md); err != nil || k != KindBooking {
		return p, ErrUnknownKind
	}
	p.Ref, _ = md[keyRef].(string)
	sid, err := metaUint(md, keySessionID)
	if err != nil {
		return p, err
	}
	p.SessionID = sid
	p.UserID = metaOptUint(md, keyUserID)
	p.FirstName, _ = md[keyFirstName].(string)
	p.LastName, _ = md[keyLastName].(string)
	p.Phone, _ = md[keyPhone].(string)
	p.Email, _ = md[keyEmail].(string)
	if p.Phone == "" || p.Email == "" {
		return p, fmt.Errorf("booking metadata missing contact fields")
	}
	return p, nil
}

// DecodePurchase reconstructs a pending package purchase from metadata.
func DecodePurchase(md map[string]interface{}) (PendingPurchase, error) {
	var p PendingPurchase
	if k, err := Kind(md); err != nil || k != KindPackage {
		return p, ErrUnknownKind
	}
	p.Ref, _ = md[keyRef].(string)
	pid, err := metaUint(md, keyPackageID)
	if err != nil {
		return p, err
	}
	p.PackageID = pid
	p.UserID = metaOptUint(md, keyUserID)
	p.FirstName, _ = md[keyFirstName].(string)
	p.LastName, _ = md[keyLastName].(string)
	p.Phone, _ = md[keyPhone].(string)
	p.Email, _ = md[keyEmail].(string)
	if p.Email == "" {
		return p, fmt.Errorf("purchase metadata missing buyer email")
	}
	return p, nil
}

func metaUint(md map[string]interface{}, key string) (uint64, error) {
	switch v := md[key].(type) {
	case string:
		return strconv.ParseUint(v, 10, 64)
	case float64:
		return uint64(v), nil
	}
	return 0, fmt.Errorf("metadata %s missing or malformed", key)
}

func metaOptUint(md map[string]interface{}, key string) *uint64 {
	n, err := metaUint(md, key)
	if err != nil {
		return nil
	}
	return &n
}
