package service

import (
	"context"
	"strings"

	"github.com/nkoval/studio-booking/internal/model"
)

// SessionCreator claims the target slot and inserts the offering
// atomically.  The production implementation is the session repository,
// whose claim is a single conditional UPDATE guarded by the slot's
// current status; losing the claim race surfaces as ErrSlotUnavailable.
type SessionCreator interface {
	Create(ctx context.Context, s *model.Session) error
}

// ScheduleService publishes class offerings onto open slots.
type ScheduleService struct {
	sessions SessionCreator
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(sessions SessionCreator) *ScheduleService {
	return &ScheduleService{sessions: sessions}
}

// Publish validates the offering and drives the claim-and-insert.  Two
// concurrent publishes against the same slot resolve to exactly one
// winner; the loser should re-query the schedule and pick another slot.
func (s *ScheduleService) Publish(ctx context.Context, sess *model.Session) error {
	sess.Title = strings.TrimSpace(sess.Title)
	if sess.TimeSlotID == 0 || sess.Title == "" || sess.MaxCapacity == 0 {
		return ErrInvalidInput
	}
	return s.sessions.Create(ctx, sess)
}
