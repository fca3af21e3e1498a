package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreachd/config"
	controller "outreachd/controllers"
	"outreachd/mailer"
	"outreachd/ratelimit"
	"outreachd/replies"
	"outreachd/report"
	"outreachd/routes"
	"outreachd/scheduler"
	"outreachd/store"
	"outreachd/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Configuration errors are fatal: never start with invalid caps or delays.
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	var reporter report.Reporter
	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		reporter = report.NewSentryReporter(dsn, config.AppConfig.Environment, logger)
	} else {
		reporter = report.NewLogReporter(logger)
	}

	// Stores
	recipients := store.NewRecipientStore(config.DB)
	steps := store.NewStepStore(config.DB)
	events := store.NewReplyEventStore(config.DB)

	// Rate limiter with persisted state so quotas survive restarts.
	var rateState ratelimit.StateStore
	if config.AppConfig.Redis.Enabled {
		rateState = ratelimit.NewRedisStore(config.AppConfig.Redis, "outreachd:ratelimit")
	} else {
		rateState = ratelimit.NewFileStore(config.AppConfig.RateStateFile)
	}
	limiter := ratelimit.NewAdaptiveLimiter(
		ratelimit.NewLimiter(config.AppConfig.RateLimitPerMinute, config.AppConfig.RateLimitPerDay, rateState, logger),
		logger,
	)

	// Transport
	templates, err := mailer.NewTemplateEngine(config.AppConfig.SenderName)
	if err != nil {
		logger.Fatalf("Failed to parse email templates: %v", err)
	}
	var sender mailer.Sender
	switch config.AppConfig.Transport {
	case "graph":
		sender = mailer.NewGraphSender(config.AppConfig.Graph,
			config.AppConfig.SenderEmail, config.AppConfig.SenderName, templates)
	default:
		sender = mailer.NewSMTPSender(config.AppConfig.SMTP,
			config.AppConfig.SenderEmail, config.AppConfig.SenderName, templates)
	}

	// Scheduler
	sched := scheduler.New(scheduler.Config{
		FollowUp1Delay:   time.Duration(config.AppConfig.FollowUp1DelayDays) * 24 * time.Hour,
		FollowUp2Delay:   time.Duration(config.AppConfig.FollowUp2DelayDays) * 24 * time.Hour,
		FollowUp2Enabled: config.AppConfig.FollowUp2Enabled,
		MaxConcurrency:   4,
		SendTimeout:      30 * time.Second,
	}, recipients, steps, sender, limiter, reporter, logger)

	// Reply pipeline
	matcher := replies.NewMatcher(recipients, steps, replies.MatcherOptions{
		SubjectPrefixes:  config.AppConfig.ReplySubjectPrefixes,
		AutoReplyPhrases: config.AppConfig.AutoReplyPhrases,
		Lookback:         time.Duration(config.AppConfig.ReplyLookbackDays) * 24 * time.Hour,
	}, logger)
	stopper := replies.NewStopper(recipients, steps, events, sched, logger)
	source := replies.NewIMAPSource(config.AppConfig.IMAP, logger)
	tracker := replies.NewTracker(source, matcher, stopper, reporter, logger)

	// Workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewSchedulerWorker(sched,
		time.Duration(config.AppConfig.PollIntervalMinutes)*time.Minute, logger).Start(ctx)
	if config.AppConfig.IMAP.Host != "" {
		go worker.NewReplyWorker(tracker,
			time.Duration(config.AppConfig.ReplyCheckIntervalMinutes)*time.Minute, logger).Start(ctx)
	} else {
		logger.Warn("IMAP_HOST not set, reply monitoring disabled")
	}

	// HTTP surface
	app := fiber.New(fiber.Config{AppName: "outreachd"})
	routes.SetupRoutes(app,
		controller.NewRecipientController(recipients, steps, sched, logger),
		controller.NewImportController(recipients, sched, logger),
		&controller.StatusController{
			DB:         config.DB,
			Recipients: recipients,
			Steps:      steps,
			Events:     events,
			Scheduler:  sched,
			Limiter:    limiter,
			Tracker:    tracker,
			Sender:     sender,
			Logger:     logger,
		},
	)

	// Graceful shutdown: stop the workers, drain the server, flush Sentry.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down...")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("shutdown error")
		}
		report.Flush(2 * time.Second)
	}()

	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
