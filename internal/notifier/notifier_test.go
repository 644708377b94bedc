package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nkoval/studio-booking/internal/config"
	"github.com/nkoval/studio-booking/internal/repository"
)

// fakeStore keeps due items and markers in memory, mirroring the
// marker-gated selection the SQL store does.
type fakeStore struct {
	mu sync.Mutex

	leads     map[uint64]*leadRow
	reminders map[uint64]*bookingRow
	followups map[uint64]*bookingRow
	rebooks   map[uint64]*rebookRow
}

type leadRow struct {
	contact   repository.LeadContact
	createdAt time.Time
	marked    bool
}

type bookingRow struct {
	contact repository.BookingContact
	endsAt  time.Time
	marked  bool
}

type rebookRow struct {
	candidate repository.RebookCandidate
	marked    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:     make(map[uint64]*leadRow),
		reminders: make(map[uint64]*bookingRow),
		followups: make(map[uint64]*bookingRow),
		rebooks:   make(map[uint64]*rebookRow),
	}
}

func (f *fakeStore) DueLeadFollowups(ctx context.Context, cutoff time.Time) ([]repository.LeadContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.LeadContact
	for _, r := range f.leads {
		if !r.marked && !r.createdAt.After(cutoff) {
			out = append(out, r.contact)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkLeadFollowup(ctx context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.leads[id]; ok {
		r.marked = true
	}
	return nil
}

func (f *fakeStore) DuePreClassReminders(ctx context.Context, now time.Time, window time.Duration) ([]repository.BookingContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.BookingContact
	for _, r := range f.reminders {
		if !r.marked && r.contact.StartsAt.After(now) && !r.contact.StartsAt.After(now.Add(window)) {
			out = append(out, r.contact)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPreClassReminder(ctx context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[id]; ok {
		r.marked = true
	}
	return nil
}

func (f *fakeStore) DuePostClassFollowups(ctx context.Context, now time.Time, grace time.Duration) ([]repository.BookingContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.BookingContact
	for _, r := range f.followups {
		if !r.marked && r.endsAt.Before(now.Add(-grace)) {
			out = append(out, r.contact)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPostClassFollowup(ctx context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.followups[id]; ok {
		r.marked = true
	}
	return nil
}

func (f *fakeStore) DueRebookNudges(ctx context.Context, now time.Time) ([]repository.RebookCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.RebookCandidate
	for _, r := range f.rebooks {
		if !r.marked && r.candidate.StartsAt.After(now) {
			out = append(out, r.candidate)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRebookNudge(ctx context.Context, sessionID uint64, phone, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rebooks {
		if r.candidate.SessionID == sessionID && r.candidate.Phone == phone {
			r.marked = true
		}
	}
	return nil
}

// fakeMailer records sends and can be told to reject specific addresses.
type fakeMailer struct {
	mu     sync.Mutex
	sent   []string // "to|subject"
	reject map[string]bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{reject: make(map[string]bool)}
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject[to] {
		return errors.New("smtp: transport rejected")
	}
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testConfig() config.NotifierConfig {
	return config.NotifierConfig{
		Interval:       time.Hour,
		LeadAfter:      24 * time.Hour,
		ReminderWindow: 24 * time.Hour,
		FollowupGrace:  2 * time.Hour,
		BatchSize:      25,
		BatchDelay:     0,
	}
}

func newTestNotifier(store *fakeStore, m *fakeMailer, now time.Time) *Notifier {
	n := New(store, m, nil, testConfig())
	n.now = func() time.Time { return now }
	return n
}

func TestRunOnceIsIdempotent(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.leads[1] = &leadRow{
		contact:   repository.LeadContact{SubscriberID: 1, Email: "lead@example.com"},
		createdAt: now.Add(-48 * time.Hour),
	}
	store.reminders[2] = &bookingRow{
		contact: repository.BookingContact{BookingID: 2, Email: "booked@example.com", SessionTitle: "Vinyasa Flow", StartsAt: now.Add(5 * time.Hour)},
	}
	store.followups[3] = &bookingRow{
		contact: repository.BookingContact{BookingID: 3, Email: "past@example.com", SessionTitle: "Yin"},
		endsAt:  now.Add(-3 * time.Hour),
	}
	store.rebooks[4] = &rebookRow{
		candidate: repository.RebookCandidate{SessionID: 9, Title: "Vinyasa Flow", StartsAt: now.Add(72 * time.Hour), Email: "fan@example.com", Phone: "5551234567"},
	}
	m := newFakeMailer()
	n := newTestNotifier(store, m, now)

	n.RunOnce(context.Background())
	if got := m.count(); got != 4 {
		t.Fatalf("first run sent %d, want 4", got)
	}

	n.RunOnce(context.Background())
	if got := m.count(); got != 4 {
		t.Fatalf("second run sent %d more emails; markers must suppress repeats", got-4)
	}
}

func TestReminderWindowBoundaries(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.reminders[1] = &bookingRow{ // 23h out: due
		contact: repository.BookingContact{BookingID: 1, Email: "soon@example.com", StartsAt: now.Add(23 * time.Hour)},
	}
	store.reminders[2] = &bookingRow{ // 25h out: not yet
		contact: repository.BookingContact{BookingID: 2, Email: "later@example.com", StartsAt: now.Add(25 * time.Hour)},
	}
	store.reminders[3] = &bookingRow{ // already started: never
		contact: repository.BookingContact{BookingID: 3, Email: "started@example.com", StartsAt: now.Add(-time.Hour)},
	}
	m := newFakeMailer()
	newTestNotifier(store, m, now).RunOnce(context.Background())

	if got := m.count(); got != 1 {
		t.Fatalf("sent %d reminders, want 1", got)
	}
	if !store.reminders[1].marked {
		t.Error("due reminder not marked")
	}
	if store.reminders[2].marked || store.reminders[3].marked {
		t.Error("out-of-window reminders must stay unmarked")
	}
}

func TestOptOutSuppressesSendAndMarker(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.reminders[1] = &bookingRow{
		contact: repository.BookingContact{BookingID: 1, Email: "quiet@example.com", StartsAt: now.Add(5 * time.Hour), OptedOut: true},
	}
	m := newFakeMailer()
	newTestNotifier(store, m, now).RunOnce(context.Background())

	if m.count() != 0 {
		t.Fatal("opted-out recipient received email")
	}
	if store.reminders[1].marked {
		t.Error("opt-out skip must not set the marker")
	}
}

func TestSendFailureLeavesItemDue(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.reminders[1] = &bookingRow{
		contact: repository.BookingContact{BookingID: 1, Email: "flaky@example.com", StartsAt: now.Add(5 * time.Hour)},
	}
	m := newFakeMailer()
	m.reject["flaky@example.com"] = true
	n := newTestNotifier(store, m, now)

	n.RunOnce(context.Background())
	if store.reminders[1].marked {
		t.Fatal("marker set although transport rejected the send")
	}

	// Transport recovers; the item is still due and goes out.
	m.mu.Lock()
	m.reject["flaky@example.com"] = false
	m.mu.Unlock()
	n.RunOnce(context.Background())
	if m.count() != 1 {
		t.Fatalf("sent %d, want 1 after retry", m.count())
	}
	if !store.reminders[1].marked {
		t.Error("marker not set after successful retry")
	}
}

func TestLeadFollowupRespectsMinimumAge(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.leads[1] = &leadRow{ // captured 2h ago: too fresh
		contact:   repository.LeadContact{SubscriberID: 1, Email: "fresh@example.com"},
		createdAt: now.Add(-2 * time.Hour),
	}
	store.leads[2] = &leadRow{ // captured 30h ago: due
		contact:   repository.LeadContact{SubscriberID: 2, Email: "aged@example.com"},
		createdAt: now.Add(-30 * time.Hour),
	}
	m := newFakeMailer()
	newTestNotifier(store, m, now).RunOnce(context.Background())

	if got := m.count(); got != 1 {
		t.Fatalf("sent %d lead follow-ups, want 1", got)
	}
	if store.leads[1].marked {
		t.Error("fresh lead must stay unmarked")
	}
	if !store.leads[2].marked {
		t.Error("aged lead not marked")
	}
}

func TestRebookNudgeMarkedPerSessionAndRecipient(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.rebooks[1] = &rebookRow{
		candidate: repository.RebookCandidate{SessionID: 9, Title: "Yin", StartsAt: now.Add(48 * time.Hour), Email: "a@example.com", Phone: "5551111111"},
	}
	store.rebooks[2] = &rebookRow{
		candidate: repository.RebookCandidate{SessionID: 9, Title: "Yin", StartsAt: now.Add(48 * time.Hour), Email: "b@example.com", Phone: "5552222222"},
	}
	m := newFakeMailer()
	n := newTestNotifier(store, m, now)

	n.RunOnce(context.Background())
	if got := m.count(); got != 2 {
		t.Fatalf("sent %d nudges, want 2", got)
	}
	n.RunOnce(context.Background())
	if got := m.count(); got != 2 {
		t.Fatalf("rerun sent %d extra nudges", got-2)
	}
}
