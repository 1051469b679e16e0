// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthpass/internal/audit"
	"healthpass/internal/gateway/maya"
	"healthpass/internal/jwttoken"
	"healthpass/internal/platform/config"
	"healthpass/internal/platform/httpserver"
	"healthpass/internal/platform/logger"
	"healthpass/internal/platform/postgres"
	"healthpass/internal/platform/redis"
	wfconfig "healthpass/internal/workflow/config"
	"healthpass/internal/workflow/handler"
	wfmetrics "healthpass/internal/workflow/metrics"
	"healthpass/internal/workflow/ports"
	appstore "healthpass/internal/workflow/store/application"
	doctypestore "healthpass/internal/workflow/store/doctype"
	documentstore "healthpass/internal/workflow/store/document"
	idemstore "healthpass/internal/workflow/store/idempotency"
	notificationstore "healthpass/internal/workflow/store/notification"
	paymentstore "healthpass/internal/workflow/store/payment"
	issuestore "healthpass/internal/workflow/store/reviewissue"
	userstore "healthpass/internal/workflow/store/user"

	notifysvc "healthpass/internal/workflow/service/notify"
	paymentsvc "healthpass/internal/workflow/service/payment"
	reviewsvc "healthpass/internal/workflow/service/review"
	submissionsvc "healthpass/internal/workflow/service/submission"
)

const sweepInterval = time.Minute

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	metrics := wfmetrics.New()
	wfCfg := wfconfig.DefaultConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		users      ports.UserStore
		apps       ports.ApplicationStore
		docTypes   ports.DocumentTypeStore
		docs       ports.DocumentStore
		issues     ports.ReviewIssueStore
		payments   ports.PaymentStore
		notifs     ports.NotificationStore
		auditStore audit.Store
	)

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		users = userstore.NewPostgres(db)
		apps = appstore.NewPostgres(db)
		docTypes = doctypestore.NewPostgres(db)
		docs = documentstore.NewPostgres(db)
		issues = issuestore.NewPostgres(db)
		payments = paymentstore.NewPostgres(db)
		notifs = notificationstore.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		users = userstore.NewMemory()
		apps = appstore.NewMemory()
		docTypes = doctypestore.NewMemory()
		docs = documentstore.NewMemory()
		issues = issuestore.NewMemory()
		payments = paymentstore.NewMemory()
		notifs = notificationstore.NewMemory()
		auditStore = audit.NewMemoryStore()
		log.Warn("no DATABASE_URL set, using in-memory stores")
	}

	var idempotency ports.IdempotencyStore
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		idempotency = idemstore.NewRedis(redisClient.Client)
		log.Info("using redis idempotency store")
	} else {
		idempotency = idemstore.NewMemory()
		log.Warn("no REDIS_URL set, using in-memory idempotency store")
	}

	auditInbox := make(chan audit.Event, 256)
	auditPublisher := audit.NewChannelPublisher(auditInbox)
	auditWorker := audit.NewWorker(auditStore, auditInbox)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	var gateway ports.Gateway
	if cfg.Maya.SecretKey != "" {
		gateway = maya.NewClient(cfg.Maya, maya.WithMetrics(metrics))
	} else {
		log.Warn("no MAYA_SECRET_KEY set, gateway checkout disabled")
	}

	notifier, err := notifysvc.New(users, notifs,
		notifysvc.WithLogger(log),
		notifysvc.WithMetrics(metrics),
	)
	if err != nil {
		log.Error("notify service init failed", "error", err)
		os.Exit(1)
	}

	submission, err := submissionsvc.New(users, apps, docTypes, docs, payments, notifier, wfCfg,
		submissionsvc.WithLogger(log),
		submissionsvc.WithMetrics(metrics),
		submissionsvc.WithDB(db),
	)
	if err != nil {
		log.Error("submission service init failed", "error", err)
		os.Exit(1)
	}

	review, err := reviewsvc.New(users, apps, docTypes, docs, issues, payments, notifier, wfCfg,
		reviewsvc.WithLogger(log),
		reviewsvc.WithMetrics(metrics),
		reviewsvc.WithAuditPublisher(auditPublisher),
		reviewsvc.WithDB(db),
	)
	if err != nil {
		log.Error("review service init failed", "error", err)
		os.Exit(1)
	}

	paymentOpts := []paymentsvc.Option{
		paymentsvc.WithLogger(log),
		paymentsvc.WithMetrics(metrics),
		paymentsvc.WithAuditPublisher(auditPublisher),
		paymentsvc.WithIdempotency(idempotency),
		paymentsvc.WithDB(db),
		paymentsvc.WithReturnBaseURL(cfg.Maya.ReturnBaseURL),
	}
	if gateway != nil {
		paymentOpts = append(paymentOpts, paymentsvc.WithGateway(gateway))
	}
	payment, err := paymentsvc.New(users, apps, payments, issues, notifier, wfCfg, paymentOpts...)
	if err != nil {
		log.Error("payment service init failed", "error", err)
		os.Exit(1)
	}

	// Periodic repair of payments stuck in processing.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := payment.SweepAbandoned(ctx); err != nil {
					log.Error("abandoned payment sweep failed", "error", err)
				}
			}
		}
	}()

	validator := jwttoken.NewService(cfg.JWTSigningKey, "healthpass")
	h := handler.New(submission, review, payment, notifier, validator, log)

	router := chi.NewRouter()
	h.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting healthpass server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
