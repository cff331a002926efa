package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicdesk/clinicdesk/libs/config"
	"github.com/clinicdesk/clinicdesk/libs/db"
	"github.com/clinicdesk/clinicdesk/libs/httpx"
	"github.com/clinicdesk/clinicdesk/libs/kafkax"
	otelx "github.com/clinicdesk/clinicdesk/libs/otel"
	"github.com/clinicdesk/clinicdesk/libs/runtime"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/availability"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/handlers"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/outbox"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/payments"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/reschedule"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/schedule"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewAppointmentRepository(pool, outboxRepo)
	directory := storage.NewDirectoryRepository(pool)

	// Schedule templates come from the clinic directory service over gRPC
	// when configured, otherwise from the local schedule_templates table.
	var templates availability.TemplateSource = directory
	if remote, err := schedule.NewProvider(config.String("DIRECTORY_GRPC_ADDR", "")); err != nil {
		logger.Error("schedule provider init failed; using local templates", "err", err)
	} else if remote != nil {
		templates = remote
	}
	checker := availability.NewChecker(templates, repo)

	machine := lifecycle.NewMachine(repo, logger)
	coordinator := reschedule.NewCoordinator(repo, checker, logger)

	gateway := payments.NewStripeGateway(payments.Config{
		SecretKey: config.String("STRIPE_SECRET_KEY", ""),
		Currency:  config.String("STRIPE_CURRENCY", "usd"),
	})
	var gatewayIface payments.Gateway
	if gateway.Configured() {
		gatewayIface = gateway
	} else {
		logger.Warn("stripe gateway not configured; bookings proceed without online payment")
	}
	pricing := payments.Pricing{
		TaxRateBasisPoints:  int64(config.Int("TAX_RATE_BASIS_POINTS", 0)),
		ReservationFeeCents: int64(config.Int("RESERVATION_FEE_CENTS", 2000)),
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(repo, directory, outboxRepo, checker, gatewayIface, pricing, logger)
	appointmentHandler := handlers.NewAppointmentHandler(repo, machine, coordinator, gatewayIface, pricing, logger)
	webhookHandler := handlers.NewWebhookHandler(repo, machine, logger, handlers.WebhookConfig{
		Secret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		ToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	// Redis-backed limiter when available, per-process fallback otherwise.
	rateLimit := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute).Middleware()
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL; falling back to in-memory rate limiting", "err", err)
		} else {
			rdb := redis.NewClient(opts)
			limiter := httpx.NewRedisRateLimiter(rdb,
				config.Int("RATE_LIMIT_PER_MINUTE", 120),
				time.Minute,
				"booking")
			rateLimit = limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
			readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		}
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/public/services", bookingHandler.Services)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/book", bookingHandler.Create)
	mux.HandleFunc("/api/v1/payments/webhook", webhookHandler.StripeWebhook)
	mux.HandleFunc("/api/v1/appointments", appointmentHandler.List)
	mux.HandleFunc("/api/v1/appointments/get", appointmentHandler.Get)
	mux.HandleFunc("/api/v1/appointments/confirm", appointmentHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/reschedule", appointmentHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", appointmentHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/complete", appointmentHandler.Complete)
	mux.HandleFunc("/api/v1/appointments/no-show", appointmentHandler.NoShow)
	mux.HandleFunc("/api/v1/appointments/settle-service", appointmentHandler.SettleService)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rateLimit,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: []string{config.String("CORS_ALLOWED_ORIGINS", "*")},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Actor-Id", "X-Role"},
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
