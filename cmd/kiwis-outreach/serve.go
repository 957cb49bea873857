package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vipul43/kiwis-outreach/internal/config"
	"github.com/vipul43/kiwis-outreach/internal/database"
	"github.com/vipul43/kiwis-outreach/internal/events"
	"github.com/vipul43/kiwis-outreach/internal/gmail"
	"github.com/vipul43/kiwis-outreach/internal/httpapi"
	"github.com/vipul43/kiwis-outreach/internal/openrouter"
	"github.com/vipul43/kiwis-outreach/internal/repository"
	"github.com/vipul43/kiwis-outreach/internal/service"
	"github.com/vipul43/kiwis-outreach/internal/watcher"
)

// app holds the wired server-side components
type app struct {
	cfg       *config.Config
	db        *database.DB
	publisher events.Publisher
	closers   []func() error

	processor *service.EnrichmentProcessor
	services  httpapi.Services
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Failed to close resource: %v", err)
		}
	}
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, closers: []func() error{db.Close}}
	log.Println("Database connected successfully")

	log.Println("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		a.Close()
		return nil, err
	}
	log.Println("Migrations completed successfully")

	// Event fan-out falls back to the log when no broker is configured
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = amqpPub
		a.closers = append(a.closers, amqpPub.Close)
	} else {
		a.publisher = events.LogPublisher{}
	}

	// Initialize repositories
	contactRepo := repository.NewContactRepository(db.Gorm)
	jobRepo := repository.NewEnrichmentJobRepository(db.SQL)
	outreachRepo := repository.NewOutreachRepository(db.Gorm)
	mailRepo := repository.NewMailAccountRepository(db.Gorm)

	// Optional providers stay untyped nil when unconfigured
	var provider service.MailProvider
	if cfg.GmailClientID != "" && cfg.GmailClientSecret != "" {
		provider = gmail.NewClient(cfg.GmailClientID, cfg.GmailClientSecret, cfg.GmailRedirectURL)
	}

	var drafter service.Drafter
	if cfg.OpenRouterAPIKey != "" {
		openRouterClient := openrouter.NewClient(cfg.OpenRouterAPIKey)
		if cfg.OpenRouterModel != "" {
			openRouterClient.SetModel(cfg.OpenRouterModel)
		}
		drafter = openRouterClient
	}

	// Initialize services
	tracker := service.NewJobTracker(jobRepo)
	ingestor := service.NewIngestor(contactRepo, tracker)
	a.processor = service.NewEnrichmentProcessor(contactRepo, jobRepo, drafter, a.publisher, cfg.EnrichBatchSize, cfg.MaxRetries)
	outreach := service.NewOutreachService(contactRepo, outreachRepo, a.publisher, cfg.FeedbackCooldown())
	mailAccounts := service.NewMailAccountService(mailRepo, provider)

	var detector service.ReplyDetector
	var mailbox httpapi.Mailbox
	if provider != nil {
		detector = mailAccounts
		mailbox = mailAccounts
	}
	feedback := service.NewFeedbackService(outreachRepo, detector, a.publisher)
	analytics := service.NewAnalyticsService(outreachRepo)

	a.services = httpapi.Services{
		Ingestor:  ingestor,
		Jobs:      tracker,
		Outreach:  outreach,
		Feedback:  feedback,
		Mail:      mailbox,
		Analytics: analytics,
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Println("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newServeCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the enrichment watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(a, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API without the enrichment watcher")
	return cmd
}

func serve(a *app, withWorker bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.NewServer(a.services).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		log.Printf("HTTP server listening on %s", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	watcherDone := make(chan error, 1)
	if withWorker {
		w := watcher.New(a.cfg, a.processor)
		go func() {
			watcherDone <- w.Start(ctx)
		}()
	} else {
		close(watcherDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		runErr = err
		cancel()
	}

	// Wait for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	select {
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout exceeded")
	case err := <-watcherDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Watcher error: %v", err)
		}
	}

	log.Println("Application stopped")
	return runErr
}

func newWorkerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the enrichment watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			w := watcher.New(a.cfg, a.processor)
			if once {
				return w.RunOnce(ctx)
			}

			err = w.Start(ctx)
			if errors.Is(err, context.Canceled) {
				log.Println("Application stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process one round of running jobs and exit")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.RunMigrations(db); err != nil {
				return err
			}
			log.Println("Migrations completed successfully")
			return nil
		},
	}
}
