package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/libs/db"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/availability"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/outbox"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/reschedule"
)

// AppointmentRepository is the single persistence gateway for appointments.
// It implements lifecycle.Store, reschedule.Store, and
// availability.IntervalSource against one appointments table guarded by an
// exclusion constraint on (provider_id, appointment_date, minute range) for
// active rows, so every INSERT and slot move is re-validated at write time.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `id, provider_id, patient_id, service_id,
	COALESCE(patient_email, ''), COALESCE(patient_phone, ''),
	service_name, provider_name, price_cents, tax_cents,
	appointment_date, start_minute, end_minute,
	status, payment_status, service_payment_status,
	reschedule_count, max_reschedules, reschedule_history,
	confirmation_number, COALESCE(order_id, ''), COALESCE(payment_id, ''),
	cancelled_at, COALESCE(cancel_reason, ''), created_at, updated_at`

// Create inserts a pending appointment inside the caller's transaction and
// fills the generated id and timestamps. An interval overlapping another
// active appointment fails the exclusion constraint and surfaces as
// lifecycle.ErrSlotUnavailable.
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	history, err := historyJSON(appt.RescheduleHistory)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, provider_id, patient_id, service_id,
			 patient_email, patient_phone,
			 service_name, provider_name, price_cents, tax_cents,
			 appointment_date, start_minute, end_minute,
			 status, payment_status, service_payment_status,
			 max_reschedules, reschedule_history,
			 confirmation_number, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NULLIF($20, ''))
		RETURNING created_at, updated_at
	`,
		appt.ID, appt.ProviderID, appt.PatientID, appt.ServiceID,
		appt.PatientEmail, appt.PatientPhone,
		appt.ServiceName, appt.ProviderName, appt.PriceCents, appt.TaxCents,
		appt.AppointmentDate, appt.StartMinute, appt.EndMinute,
		string(appt.Status), string(appt.PaymentStatus), string(appt.ServicePaymentStatus),
		appt.MaxReschedules, history,
		appt.ConfirmationNumber, appt.OrderID,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	var appt model.Appointment
	err := r.withRetry(ctx, func() error {
		var err error
		appt, err = scanAppointment(r.pool.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE id = $1
		`, id))
		return classify(err)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// FindByOrderID resolves a gateway order reference back to its appointment.
// Webhook handlers use it to locate the booking a payment belongs to.
func (r *AppointmentRepository) FindByOrderID(ctx context.Context, orderID string) (model.Appointment, error) {
	var appt model.Appointment
	err := r.withRetry(ctx, func() error {
		var err error
		appt, err = scanAppointment(r.pool.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE order_id = $1
		`, orderID))
		return classify(err)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ApplyTransition performs one conditional single-row update: the SET list
// comes from change, the WHERE clause pins id plus every expected source
// state. Zero matched rows means the stored state moved since it was read,
// which maps to ErrInvalidTransition (or ErrNotFound when the row is gone).
// The outbox event, when present, commits atomically with the change.
func (r *AppointmentRepository) ApplyTransition(ctx context.Context, id string, expect lifecycle.Expect, change lifecycle.Change) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	set := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if change.Status != nil {
		add("status", string(*change.Status))
	}
	if change.PaymentStatus != nil {
		add("payment_status", string(*change.PaymentStatus))
	}
	if change.ServicePaymentStatus != nil {
		add("service_payment_status", string(*change.ServicePaymentStatus))
	}
	if change.PaymentID != "" {
		add("payment_id", change.PaymentID)
	}
	if change.CancelReason != "" {
		add("cancel_reason", change.CancelReason)
	}
	if change.CancelledAt != nil {
		add("cancelled_at", *change.CancelledAt)
	}

	where := []string{"id = $1"}
	guard := func(column string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if expect.Status != nil {
		guard("status", string(*expect.Status))
	}
	if expect.PaymentStatus != nil {
		guard("payment_status", string(*expect.PaymentStatus))
	}
	if expect.ServicePaymentStatus != nil {
		guard("service_payment_status", string(*expect.ServicePaymentStatus))
	}

	query := "UPDATE appointments SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + appointmentColumns

	appt, err := scanAppointment(tx.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, r.explainMiss(ctx, tx, id, lifecycle.ErrInvalidTransition)
		}
		return model.Appointment{}, classify(err)
	}

	if change.EventType != "" {
		evt := outbox.AppointmentEvent(id, change.EventType, change.EventPayload)
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, classify(err)
	}
	return appt, nil
}

// MoveSlot executes a reschedule as one conditional update: slot fields,
// history append, counter increment, and the optional promotion land
// together or not at all. The exclusion constraint re-validates the new
// interval in the same statement; the row's own old interval drops out of
// the check because the update replaces it.
func (r *AppointmentRepository) MoveSlot(ctx context.Context, move reschedule.Move) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := move.FromStatus
	if move.PromoteToConfirmed {
		status = model.StatusConfirmed
	}
	entry, err := historyJSON([]model.RescheduleEntry{move.Entry})
	if err != nil {
		return model.Appointment{}, err
	}

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $2,
			start_minute = $3,
			end_minute = $4,
			status = $5,
			reschedule_count = reschedule_count + 1,
			reschedule_history = reschedule_history || $6::jsonb,
			updated_at = now()
		WHERE id = $1 AND status = $7 AND reschedule_count = $8
		RETURNING `+appointmentColumns,
		move.ID, move.NewDate, move.NewStartMinute, move.NewEndMinute,
		string(status), entry, string(move.FromStatus), move.FromRescheduleCount,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, r.explainMiss(ctx, tx, move.ID, lifecycle.ErrNotReschedulable)
		}
		return model.Appointment{}, classify(err)
	}

	if move.EventType != "" {
		evt := outbox.AppointmentEvent(move.ID, move.EventType, move.EventPayload)
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, classify(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, classify(err)
	}
	return appt, nil
}

// BookedIntervals returns the minute ranges held by active appointments for
// one provider on one date, excluding excludeID when non-empty.
func (r *AppointmentRepository) BookedIntervals(ctx context.Context, providerID, date, excludeID string) ([]availability.Interval, error) {
	var intervals []availability.Interval
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT start_minute, end_minute
			FROM appointments
			WHERE provider_id = $1
				AND appointment_date = $2
				AND status IN ('pending', 'confirmed')
				AND ($3 = '' OR id::text <> $3)
			ORDER BY start_minute
		`, providerID, date, excludeID)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()

		intervals = intervals[:0]
		for rows.Next() {
			var iv availability.Interval
			if err := rows.Scan(&iv.Start, &iv.End); err != nil {
				return classify(err)
			}
			intervals = append(intervals, iv)
		}
		return classify(rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return intervals, nil
}

func (r *AppointmentRepository) ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $2
	`, patientID, limit)
}

func (r *AppointmentRepository) ListByProviderDate(ctx context.Context, providerID, date string) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND appointment_date = $2
		ORDER BY start_minute ASC
	`, providerID, date)
}

func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, classify(err)
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err())
	}
	return appts, nil
}

// explainMiss runs after a conditional update matched nothing: a missing
// row is ErrNotFound, anything else is the caller's lost-race sentinel.
func (r *AppointmentRepository) explainMiss(ctx context.Context, tx pgx.Tx, id string, lostRace error) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return classify(err)
	}
	return fmt.Errorf("%w: state changed concurrently (status now %s)", lostRace, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var (
		appt        model.Appointment
		date        time.Time
		status      string
		payment     string
		servicePay  string
		history     []byte
		cancelledAt *time.Time
	)
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.PatientID,
		&appt.ServiceID,
		&appt.PatientEmail,
		&appt.PatientPhone,
		&appt.ServiceName,
		&appt.ProviderName,
		&appt.PriceCents,
		&appt.TaxCents,
		&date,
		&appt.StartMinute,
		&appt.EndMinute,
		&status,
		&payment,
		&servicePay,
		&appt.RescheduleCount,
		&appt.MaxReschedules,
		&history,
		&appt.ConfirmationNumber,
		&appt.OrderID,
		&appt.PaymentID,
		&cancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}

	appt.AppointmentDate = date.Format(model.DateLayout)
	appt.CancelledAt = cancelledAt
	if appt.Status, err = model.ParseStatus(status); err != nil {
		return model.Appointment{}, err
	}
	if appt.PaymentStatus, err = model.ParsePaymentStatus(payment); err != nil {
		return model.Appointment{}, err
	}
	if appt.ServicePaymentStatus, err = model.ParseServicePaymentStatus(servicePay); err != nil {
		return model.Appointment{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &appt.RescheduleHistory); err != nil {
			return model.Appointment{}, fmt.Errorf("decode reschedule history for %s: %w", appt.ID, err)
		}
	}
	return appt, nil
}

func historyJSON(entries []model.RescheduleEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.RescheduleEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode reschedule history: %w", err)
	}
	return b, nil
}

// withRetry re-runs read-only operations after transient failures. Writes
// are never retried here; a conditional update that may or may not have
// committed is for the caller to resolve.
func (r *AppointmentRepository) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		err = op()
		if err == nil || !errors.Is(err, lifecycle.ErrTransient) {
			return err
		}
	}
	return err
}
