package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/libs/db"
	otelx "github.com/clinicdesk/clinicdesk/libs/otel"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/dispatch"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/outbox"
)

type Worker struct {
	pool       *db.Pool
	repo       *Repository
	dispatcher *dispatch.Dispatcher
	outbox     *outbox.Repository
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	backoff    time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, dispatcher *dispatch.Dispatcher, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:       pool,
		repo:       repo,
		dispatcher: dispatcher,
		outbox:     outboxRepo,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		backoff:    cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)

		var evt dispatch.AppointmentEvent
		if err := json.Unmarshal(job.Payload, &evt); err != nil {
			// Undecodable payloads never succeed; dead-letter immediately.
			if err := w.repo.MarkFailed(ctx, tx, job.ID, job.MaxAttempts, job.MaxAttempts, time.Now().UTC(), "invalid payload"); err != nil {
				return err
			}
			if err := w.enqueueDLQ(jobCtx, tx, job, "invalid payload"); err != nil {
				return err
			}
			continue
		}

		if err := w.dispatcher.Dispatch(jobCtx, dispatch.KindReminder, evt); err != nil {
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff)
			if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); err != nil {
				return err
			}
			if attempts >= job.MaxAttempts {
				if err := w.enqueueDLQ(jobCtx, tx, job, "max attempts reached"); err != nil {
					return err
				}
			}
			continue
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": job.AppointmentID,
		"remind_at":      job.RemindAt.UTC().Format(time.RFC3339),
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reminder_job",
		AggregateID:   job.AppointmentID,
		EventType:     "notification.reminder.dlq.v1",
		Payload:       payload,
	})
}

// ScheduleForEvent creates the reminder jobs for a booked/confirmed/moved
// appointment: one job per offset, skipping times already in the past.
func ScheduleForEvent(ctx context.Context, repo *Repository, evt dispatch.AppointmentEvent, offsets []time.Duration, now time.Time) error {
	jobs, err := buildJobs(evt, offsets, now)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := repo.Insert(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func buildJobs(evt dispatch.AppointmentEvent, offsets []time.Duration, now time.Time) ([]Job, error) {
	startAt, err := slotStart(evt)
	if err != nil {
		return nil, err
	}
	// Reschedule payloads carry the slot in the to_* fields; store the job
	// payload with the current slot so the reminder text reads correctly.
	if evt.ToDate != "" {
		evt.AppointmentDate, evt.StartTime, evt.EndTime = evt.ToDate, evt.ToStart, evt.ToEnd
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, offset := range offsets {
		remindAt := startAt.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		jobs = append(jobs, Job{
			IdempotencyKey: evt.AppointmentID + "|" + remindAt.UTC().Format(time.RFC3339),
			AppointmentID:  evt.AppointmentID,
			Payload:        payload,
			RemindAt:       remindAt,
		})
	}
	return jobs, nil
}

func slotStart(evt dispatch.AppointmentEvent) (time.Time, error) {
	date, start := evt.AppointmentDate, evt.StartTime
	if evt.ToDate != "" {
		date, start = evt.ToDate, evt.ToStart
	}
	return time.Parse("2006-01-02 15:04", date+" "+start)
}
