package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/repository"
)

// memScheduleStore honors the conditional-claim contract: the
// available-to-claimed transition and the session insert happen inside
// one critical section, and a slot that is no longer available rejects
// the claim instead of overwriting it.
type memScheduleStore struct {
	mu       sync.Mutex
	slots    map[uint64]*memSlot
	sessions []*model.Session
	nextID   uint64
}

type memSlot struct {
	instructorID uint64
	status       model.SlotStatus
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{slots: make(map[uint64]*memSlot)}
}

func (m *memScheduleStore) Create(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[s.TimeSlotID]
	if !ok {
		return repository.ErrSlotNotFound
	}
	if slot.instructorID != s.InstructorID {
		return repository.ErrForbidden
	}
	if slot.status != model.SlotAvailable {
		return repository.ErrSlotUnavailable
	}
	slot.status = model.SlotClaimed
	m.nextID++
	s.ID = m.nextID
	s.Status = model.SessionScheduled
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func publishInput(slotID uint64) *model.Session {
	return &model.Session{
		InstructorID: 1,
		TimeSlotID:   slotID,
		Title:        "Vinyasa Flow",
		MaxCapacity:  8,
	}
}

// TestPublishClaimRace fires many concurrent publishes at one open slot
// and verifies exactly one wins the claim.
func TestPublishClaimRace(t *testing.T) {
	const contenders = 20

	store := newMemScheduleStore()
	store.slots[1] = &memSlot{instructorID: 1, status: model.SlotAvailable}
	svc := NewScheduleService(store)

	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Publish(context.Background(), publishInput(1))
		}()
	}
	wg.Wait()
	close(results)

	var wins, lost int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrSlotUnavailable):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if lost != contenders-1 {
		t.Errorf("losers = %d, want %d", lost, contenders-1)
	}
	if len(store.sessions) != 1 {
		t.Errorf("store holds %d sessions, want 1", len(store.sessions))
	}
}

func TestPublishRejectsClaimedSlot(t *testing.T) {
	store := newMemScheduleStore()
	store.slots[1] = &memSlot{instructorID: 1, status: model.SlotClaimed}
	svc := NewScheduleService(store)

	if err := svc.Publish(context.Background(), publishInput(1)); !errors.Is(err, repository.ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestPublishWrongOwner(t *testing.T) {
	store := newMemScheduleStore()
	store.slots[1] = &memSlot{instructorID: 2, status: model.SlotAvailable}
	svc := NewScheduleService(store)

	if err := svc.Publish(context.Background(), publishInput(1)); !errors.Is(err, repository.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestPublishValidation(t *testing.T) {
	store := newMemScheduleStore()
	store.slots[1] = &memSlot{instructorID: 1, status: model.SlotAvailable}
	svc := NewScheduleService(store)

	in := publishInput(1)
	in.Title = "   "
	if err := svc.Publish(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if len(store.sessions) != 0 {
		t.Error("invalid publish must not create a session")
	}
}
