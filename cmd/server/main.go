package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-hr-leave/internal/client"
	"github.com/pesio-ai/be-hr-leave/internal/handler"
	"github.com/pesio-ai/be-hr-leave/internal/platform/config"
	"github.com/pesio-ai/be-hr-leave/internal/platform/database"
	"github.com/pesio-ai/be-hr-leave/internal/platform/logger"
	"github.com/pesio-ai/be-hr-leave/internal/platform/middleware"
	"github.com/pesio-ai/be-hr-leave/internal/repository"
	"github.com/pesio-ai/be-hr-leave/internal/scheduler"
	"github.com/pesio-ai/be-hr-leave/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting HR Leave Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS. Notifications are best effort: a missing broker
	// degrades to dropped events, never to a startup failure.
	var js nats.JetStreamContext
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
	} else {
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Warn().Err(err).Msg("JetStream unavailable, notifications disabled")
		} else {
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(js, log.Logger)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	sickLeaveRepo := repository.NewSickLeaveRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	delegationRepo := repository.NewDelegationRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize services
	ledger := service.NewLedgerService(userRepo, auditRepo, cfg.Leave, log)
	approvals := service.NewApprovalService(requestRepo, templateRepo, delegationRepo, auditRepo, notifier, cfg.Leave, log)
	conflicts := service.NewConflictService(userRepo, scheduleRepo, log)
	requests := service.NewRequestService(
		requestRepo, userRepo, scheduleRepo, sickLeaveRepo, templateRepo,
		auditRepo, notifier, ledger, approvals, conflicts, cfg.Leave, log,
	)

	// Initialize the lifecycle scheduler
	sched := scheduler.New(log)
	err = sched.RegisterAll(cfg.Scheduler,
		scheduler.NewDailySweepJob(scheduleRepo, sickLeaveRepo, requestRepo, auditRepo, notifier, cfg.Leave, log),
		scheduler.NewRemindersJob(scheduleRepo, requestRepo, notifier, cfg.Leave, log),
		scheduler.NewAnnualResetJob(userRepo, ledger, log),
		scheduler.NewCarryOverJob(userRepo, ledger, notifier, cfg.Leave, log),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduler jobs")
	}
	sched.Start()
	log.Info().Msg("Lifecycle scheduler started")

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(requests, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Leave request routes
	mux.HandleFunc("/api/v1/requests", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/submit", httpHandler.SubmitRequest)
	mux.HandleFunc("/api/v1/requests/decide", httpHandler.DecideStep)
	mux.HandleFunc("/api/v1/requests/edit", httpHandler.EditRequest)
	mux.HandleFunc("/api/v1/requests/conflicts", httpHandler.AnalyzeConflicts)
	mux.HandleFunc("/api/v1/vacations/cancel", httpHandler.CancelVacation)
	mux.HandleFunc("/api/v1/vacations/calendar", httpHandler.GetTeamCalendar)
	mux.HandleFunc("/api/v1/vacations/summary", httpHandler.GetSummary)
	mux.HandleFunc("/api/v1/approvals/pending", httpHandler.GetPendingApprovals)
	mux.HandleFunc("/api/v1/audit", httpHandler.GetAuditTrail)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Let in-flight cron jobs finish before dropping the DB pool.
	sched.Stop()

	log.Info().Msg("Server stopped")
}
