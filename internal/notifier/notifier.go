// Package notifier runs the lifecycle email batch job.  Four rules scan
// persisted state and send at most one email per (rule, target): the
// lead follow-up for captured subscribers, the pre-class reminder, the
// post-class follow-up, and the rebook nudge when an instructor reuses
// a class title.
//
// Correctness does not depend on the schedule.  Each rule selects rows
// whose trigger window has opened and whose marker is unset, and sets
// the marker only after the mail transport accepts the send.  A crash
// between accept and mark means one extra email on the next run, never
// a dropped one; a failed send leaves the marker unset so the item is
// retried.
package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nkoval/studio-booking/internal/config"
	"github.com/nkoval/studio-booking/internal/mailer"
	"github.com/nkoval/studio-booking/internal/repository"
)

// Store is the persistence surface the notifier needs: due-item queries
// plus conditional marker writes.  The production implementation is
// repository.NotificationRepo.
type Store interface {
	DueLeadFollowups(ctx context.Context, cutoff time.Time) ([]repository.LeadContact, error)
	MarkLeadFollowup(ctx context.Context, subscriberID uint64) error
	DuePreClassReminders(ctx context.Context, now time.Time, window time.Duration) ([]repository.BookingContact, error)
	MarkPreClassReminder(ctx context.Context, bookingID uint64) error
	DuePostClassFollowups(ctx context.Context, now time.Time, grace time.Duration) ([]repository.BookingContact, error)
	MarkPostClassFollowup(ctx context.Context, bookingID uint64) error
	DueRebookNudges(ctx context.Context, now time.Time) ([]repository.RebookCandidate, error)
	MarkRebookNudge(ctx context.Context, sessionID uint64, phone, email string) error
}

// Sweeper advances past slots and sessions to their terminal states.
// Run before the rules so the post-class query sees finished sessions.
type Sweeper interface {
	CompletePast(ctx context.Context, now time.Time) (int64, error)
	FinishPast(ctx context.Context, now time.Time) (int64, error)
}

// Notifier is the batch job.  now is injectable for tests and defaults
// to time.Now.
type Notifier struct {
	store Store
	mail  mailer.Mailer
	sweep Sweeper
	cfg   config.NotifierConfig
	now   func() time.Time
}

// New constructs a Notifier.  sweep may be nil when the caller runs the
// state sweep elsewhere.
func New(store Store, m mailer.Mailer, sweep Sweeper, cfg config.NotifierConfig) *Notifier {
	return &Notifier{store: store, mail: m, sweep: sweep, cfg: cfg, now: time.Now}
}

// Start runs the batch job on the configured interval until ctx is
// cancelled.  One pass runs immediately on startup.
func (n *Notifier) Start(ctx context.Context) {
	n.RunOnce(ctx)
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single pass: the state sweep, then all four rules.
// A failing rule is logged and does not stop the others.
func (n *Notifier) RunOnce(ctx context.Context) {
	now := n.now().UTC()
	if n.sweep != nil {
		if _, err := n.sweep.CompletePast(ctx, now); err != nil {
			log.Printf("notifier: slot sweep failed: %v", err)
		}
		if _, err := n.sweep.FinishPast(ctx, now); err != nil {
			log.Printf("notifier: session sweep failed: %v", err)
		}
	}
	if err := n.runLeadFollowups(ctx, now); err != nil {
		log.Printf("notifier: lead follow-ups: %v", err)
	}
	if err := n.runPreClassReminders(ctx, now); err != nil {
		log.Printf("notifier: pre-class reminders: %v", err)
	}
	if err := n.runPostClassFollowups(ctx, now); err != nil {
		log.Printf("notifier: post-class follow-ups: %v", err)
	}
	if err := n.runRebookNudges(ctx, now); err != nil {
		log.Printf("notifier: rebook nudges: %v", err)
	}
}

func (n *Notifier) runLeadFollowups(ctx context.Context, now time.Time) error {
	due, err := n.store.DueLeadFollowups(ctx, now.Add(-n.cfg.LeadAfter))
	if err != nil {
		return err
	}
	items := make([]sendItem, 0, len(due))
	for _, c := range due {
		c := c
		items = append(items, sendItem{
			email:    c.Email,
			optedOut: c.OptedOut,
			subject:  "Still thinking about joining a class?",
			body: fmt.Sprintf("Hi %s,\n\nThanks for your interest in the studio. Classes are open for booking whenever you're ready — we'd love to see you on the mat.\n",
				displayName(c.FirstName)),
			mark: func(ctx context.Context) error { return n.store.MarkLeadFollowup(ctx, c.SubscriberID) },
		})
	}
	return n.sendBatched(ctx, "lead follow-up", items)
}

func (n *Notifier) runPreClassReminders(ctx context.Context, now time.Time) error {
	due, err := n.store.DuePreClassReminders(ctx, now, n.cfg.ReminderWindow)
	if err != nil {
		return err
	}
	items := make([]sendItem, 0, len(due))
	for _, c := range due {
		c := c
		items = append(items, sendItem{
			email:    c.Email,
			optedOut: c.OptedOut,
			subject:  fmt.Sprintf("Reminder: %s is coming up", c.SessionTitle),
			body: fmt.Sprintf("Hi %s,\n\nJust a reminder that %s starts at %s. See you there!\n",
				displayName(c.FirstName), c.SessionTitle, c.StartsAt.Format("3:04 PM on Monday, Jan 2")),
			mark: func(ctx context.Context) error { return n.store.MarkPreClassReminder(ctx, c.BookingID) },
		})
	}
	return n.sendBatched(ctx, "pre-class reminder", items)
}

func (n *Notifier) runPostClassFollowups(ctx context.Context, now time.Time) error {
	due, err := n.store.DuePostClassFollowups(ctx, now, n.cfg.FollowupGrace)
	if err != nil {
		return err
	}
	items := make([]sendItem, 0, len(due))
	for _, c := range due {
		c := c
		items = append(items, sendItem{
			email:    c.Email,
			optedOut: c.OptedOut,
			subject:  fmt.Sprintf("Thanks for coming to %s", c.SessionTitle),
			body: fmt.Sprintf("Hi %s,\n\nThank you for joining %s — we hope you enjoyed it. We'd love to hear how it went, and to see you again soon.\n",
				displayName(c.FirstName), c.SessionTitle),
			mark: func(ctx context.Context) error { return n.store.MarkPostClassFollowup(ctx, c.BookingID) },
		})
	}
	return n.sendBatched(ctx, "post-class follow-up", items)
}

func (n *Notifier) runRebookNudges(ctx context.Context, now time.Time) error {
	due, err := n.store.DueRebookNudges(ctx, now)
	if err != nil {
		return err
	}
	items := make([]sendItem, 0, len(due))
	for _, c := range due {
		c := c
		items = append(items, sendItem{
			email:    c.Email,
			optedOut: c.OptedOut,
			subject:  fmt.Sprintf("%s is back on the schedule", c.Title),
			body: fmt.Sprintf("Hi %s,\n\n%s is running again on %s. Spots tend to fill — book yours before it's full!\n",
				displayName(c.FirstName), c.Title, c.StartsAt.Format("Monday, Jan 2 at 3:04 PM")),
			mark: func(ctx context.Context) error { return n.store.MarkRebookNudge(ctx, c.SessionID, c.Phone, c.Email) },
		})
	}
	return n.sendBatched(ctx, "rebook nudge", items)
}

type sendItem struct {
	email    string
	optedOut bool
	subject  string
	body     string
	mark     func(ctx context.Context) error
}

// sendBatched delivers items in batches with a pause between batches.
// Opt-out is honored here, at send time, so an unsubscribe between
// selection and delivery still suppresses the email (the marker stays
// unset, which is fine: an opted-out recipient is filtered every run).
// The marker write follows transport acceptance; a send failure leaves
// the item due for the next run.
func (n *Notifier) sendBatched(ctx context.Context, rule string, items []sendItem) error {
	sent := 0
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if it.optedOut {
			continue
		}
		if err := n.mail.Send(ctx, it.email, it.subject, it.body); err != nil {
			log.Printf("notifier: %s to %s failed: %v", rule, it.email, err)
			continue
		}
		if err := it.mark(ctx); err != nil {
			// The email went out but the marker write failed; the worst
			// case is one duplicate on the next run.
			log.Printf("notifier: %s marker for %s failed: %v", rule, it.email, err)
		}
		sent++
		if n.cfg.BatchSize > 0 && sent%n.cfg.BatchSize == 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.cfg.BatchDelay):
			}
		}
	}
	if sent > 0 {
		log.Printf("notifier: %s: sent %d of %d due", rule, sent, len(items))
	}
	return nil
}

func displayName(first string) string {
	if first == "" {
		return "there"
	}
	return first
}
