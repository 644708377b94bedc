// Package repository contains the data access layer.  This file defines
// sentinel errors shared across repositories so handlers can map failure
// modes to HTTP responses.  Conflicts (slot gone, session full, duplicate
// guest) and insufficient credit are expected business outcomes, not
// system errors; handlers surface them to the caller and never log them
// as failures.
package repository

import (
	"errors"
	"fmt"
	"log"
)

// ErrSlotNotFound indicates no time slot row exists for the given id.
var ErrSlotNotFound = errors.New("time slot not found")

// ErrSlotUnavailable is returned when a claim loses the race: the slot
// exists but its status is no longer AVAILABLE.  Callers should re-query
// the schedule and pick another slot.
var ErrSlotUnavailable = errors.New("time slot unavailable")

// ErrSlotReferenced is returned by Release when a non-cancelled session
// still references the slot.
var ErrSlotReferenced = errors.New("time slot still referenced by a session")

// ErrSessionNotFound indicates no session row exists for the given id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when reserving against a cancelled or
// finished session.
var ErrSessionClosed = errors.New("session is not open for booking")

// ErrSessionFull is returned when the confirmed-booking count has
// reached the session's max capacity.
var ErrSessionFull = errors.New("session is full")

// ErrDuplicateGuest is returned when a confirmed booking with the same
// normalized phone already exists for the session.
var ErrDuplicateGuest = errors.New("a booking with this phone number already exists for this session")

// ErrInsufficientCredit is returned when a credit-funded reservation
// finds no remaining balance for the instructor.  Callers fall back to
// a paid path.
var ErrInsufficientCredit = errors.New("insufficient package credit")

// ErrBookingNotFound indicates no booking row exists for the given id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrPackageNotFound indicates no package row exists for the given id.
var ErrPackageNotFound = errors.New("package not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource owned by someone else.  Handlers translate this into 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot proceed because of
// conflicting state, such as cancelling an already finished session.
// Handlers translate this into 409.
var ErrConflict = errors.New("conflict")

// errInvariant reports a broken datastore invariant.  The guarded-write
// design should make these unreachable, so hitting one is a bug, not a
// user error; it is logged loudly before being returned.
func errInvariant(format string, args ...interface{}) error {
	err := fmt.Errorf("invariant violation: "+format, args...)
	log.Printf("%v", err)
	return err
}
