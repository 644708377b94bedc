package config

import "time"

// NotifierConfig tunes the lifecycle notifier batch job.  The interval
// is a throughput knob, not a correctness parameter: every rule derives
// its window from persisted timestamps, so a skipped or delayed run only
// postpones sends, never duplicates or drops them.
type NotifierConfig struct {
	Interval       time.Duration // how often the batch job runs
	LeadAfter      time.Duration // minimum subscriber age for the lead follow-up
	ReminderWindow time.Duration // pre-class reminder lookahead
	FollowupGrace  time.Duration // wait after session end before the follow-up
	BatchSize      int           // sends per batch
	BatchDelay     time.Duration // pause between batches (mail rate limiting)
}

// LoadNotifierConfig reads environment variables to build a
// NotifierConfig, with defaults matching an hourly job.
func LoadNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Interval:       parseDur(getenv("NOTIFIER_INTERVAL", "1h")),
		LeadAfter:      parseDur(getenv("NOTIFIER_LEAD_AFTER", "24h")),
		ReminderWindow: parseDur(getenv("NOTIFIER_REMINDER_WINDOW", "24h")),
		FollowupGrace:  parseDur(getenv("NOTIFIER_FOLLOWUP_GRACE", "2h")),
		BatchSize:      atoi(getenv("NOTIFIER_BATCH_SIZE", "25")),
		BatchDelay:     parseDur(getenv("NOTIFIER_BATCH_DELAY", "5s")),
	}
}
