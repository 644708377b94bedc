// Command notifier runs one pass of the lifecycle email batch job and
// exits.  Intended for cron-style deployments where the job is not
// embedded in the API server; running both is harmless because every
// rule is marker-gated.
package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/nkoval/studio-booking/internal/config"
	"github.com/nkoval/studio-booking/internal/database"
	"github.com/nkoval/studio-booking/internal/mailer"
	"github.com/nkoval/studio-booking/internal/notifier"
	"github.com/nkoval/studio-booking/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	mailCfg := config.LoadMailConfig()
	notifierCfg := config.LoadNotifierConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName,
		database.Pool{MaxOpen: cfg.DBMaxOpen, MaxIdle: cfg.DBMaxIdle, MaxLifetime: cfg.DBConnLife})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	slots := repository.NewSlotRepo(db)
	sessions := repository.NewSessionRepo(db, slots)
	notifications := repository.NewNotificationRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	n := notifier.New(notifications, mailer.NewSMTP(mailCfg), sweeper{slots, sessions}, notifierCfg)
	n.RunOnce(ctx)
	log.Println("notifier pass complete")
}

type sweeper struct {
	slots    *repository.SlotRepo
	sessions *repository.SessionRepo
}

func (s sweeper) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	return s.slots.CompletePast(ctx, now)
}

func (s sweeper) FinishPast(ctx context.Context, now time.Time) (int64, error) {
	return s.sessions.FinishPast(ctx, now)
}
