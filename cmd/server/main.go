package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nkoval/studio-booking/internal/calendar"
	"github.com/nkoval/studio-booking/internal/config"
	"github.com/nkoval/studio-booking/internal/database"
	"github.com/nkoval/studio-booking/internal/handler"
	"github.com/nkoval/studio-booking/internal/mailer"
	"github.com/nkoval/studio-booking/internal/notifier"
	"github.com/nkoval/studio-booking/internal/payments"
	"github.com/nkoval/studio-booking/internal/queue"
	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/router"
	"github.com/nkoval/studio-booking/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	mailCfg := config.LoadMailConfig()
	payCfg := config.LoadPaymentConfig()
	notifierCfg := config.LoadNotifierConfig()
	rateCfg := config.LoadRateLimitConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName,
		database.Pool{MaxOpen: cfg.DBMaxOpen, MaxIdle: cfg.DBMaxIdle, MaxLifetime: cfg.DBConnLife})
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting disabled")
	}

	pay, err := payments.New(payCfg)
	if err != nil {
		log.Fatalf("payments: %v", err)
	}
	cal := calendar.New(config.LoadCalendarConfig())
	smtp := mailer.NewSMTP(mailCfg)

	// Repositories.
	users := repository.NewUserRepo(db)
	slots := repository.NewSlotRepo(db)
	sessions := repository.NewSessionRepo(db, slots)
	bookings := repository.NewBookingRepo(db)
	packages := repository.NewPackageRepo(db)
	subscribers := repository.NewSubscriberRepo(db)
	notifications := repository.NewNotificationRepo(db)

	// Services.
	bookingSvc := service.NewBookingService(sessions, slots, bookings, subscribers, pay, queue.PublishBookingConfirmed)
	creditSvc := service.NewCreditService(packages, pay)
	scheduleSvc := service.NewScheduleService(sessions)

	// Background workers: the lifecycle notifier and the confirmation
	// email consumer both run for the life of the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go notifier.New(notifications, smtp, sweeper{slots, sessions}, notifierCfg).Start(ctx)
	go func() {
		if err := queue.StartBookingConsumer(smtp); err != nil {
			log.Printf("booking consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users))
	router.RegisterInstructor(e, handler.NewInstructorHandler(slots, sessions, scheduleSvc, bookings, packages, cal), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(sessions, bookingSvc, creditSvc, subscribers, bookings), cfg.JWTSecret, rateCfg, rdb)
	router.RegisterWebhooks(e, handler.NewWebhookHandler(pay, bookingSvc, creditSvc))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// sweeper pairs the two past-state sweeps for the notifier.
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
