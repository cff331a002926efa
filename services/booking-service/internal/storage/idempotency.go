package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRecord is the stored outcome of a prior booking attempt with
// the same Idempotency-Key. A finalized record replays the original
// response instead of creating a second appointment.
type IdempotencyRecord struct {
	PatientID       string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func (rec IdempotencyRecord) Finalized() bool {
	return rec.StatusCode != 0
}

// LockIdempotencyKey claims (patientID, key) inside tx. The returned bool
// reports whether the key already existed; either way the row is held FOR
// UPDATE until the transaction ends, so a concurrent retry with the same
// key blocks instead of double-booking.
func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, patientID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, patientID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, classify(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (patient_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (patient_id, idempotency_key) DO NOTHING
	`, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, classify(err)
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, classify(err)
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, patientID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key, appointmentID, statusCode, response)
	return classify(err)
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, patientID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT patient_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE patient_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, patientID, key).Scan(
		&rec.PatientID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
