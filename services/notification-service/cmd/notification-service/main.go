package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicdesk/clinicdesk/libs/config"
	"github.com/clinicdesk/clinicdesk/libs/db"
	"github.com/clinicdesk/clinicdesk/libs/httpx"
	"github.com/clinicdesk/clinicdesk/libs/kafkax"
	otelx "github.com/clinicdesk/clinicdesk/libs/otel"
	"github.com/clinicdesk/clinicdesk/libs/runtime"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/consumer"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/dispatch"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/email"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/inbox"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/outbox"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/reminders"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/sms"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/storage"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	remindersRepo := reminders.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@clinicdesk.local"),
	)

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	dispatcher := dispatch.New(notificationsRepo, outboxRepo, emailSender, smsSender, logger)
	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,120"), logger)

	handleEvent := func(ctx context.Context, msg kafka.Message) error {
		var evt dispatch.AppointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.AppointmentID == "" {
			logger.Error("missing appointment_id", "topic", msg.Topic)
			return nil
		}

		kind := dispatch.KindForEventType(msg.Topic)
		if kind != "" {
			if err := dispatcher.Dispatch(ctx, kind, evt); err != nil {
				return err
			}
		}

		switch msg.Topic {
		case "booking.appointment.confirmed.v1":
			return reminders.ScheduleForEvent(ctx, remindersRepo, evt, offsets, time.Now().UTC())
		case "booking.appointment.rescheduled.v1":
			if err := remindersRepo.CancelForAppointment(ctx, evt.AppointmentID); err != nil {
				return err
			}
			return reminders.ScheduleForEvent(ctx, remindersRepo, evt, offsets, time.Now().UTC())
		case "booking.appointment.cancelled.v1":
			return remindersRepo.CancelForAppointment(ctx, evt.AppointmentID)
		}
		return nil
	}

	topics := []string{
		"booking.appointment.booked.v1",
		"booking.appointment.confirmed.v1",
		"booking.appointment.rescheduled.v1",
		"booking.appointment.cancelled.v1",
	}
	for _, topic := range topics {
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
			Topic:   topic,
		}, handleEvent)
		go eventConsumer.Run(ctx)
	}

	reminderWorker := reminders.NewWorker(pool, remindersRepo, dispatcher, outboxRepo, logger, reminders.WorkerConfig{
		Interval:  config.Minutes("REMINDER_POLL_MINUTES", time.Minute),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.Minutes("REMINDER_RETRY_BACKOFF_MINUTES", time.Minute),
	})
	go reminderWorker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
