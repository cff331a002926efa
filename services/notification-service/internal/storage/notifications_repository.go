package storage

import (
	"context"
	"encoding/json"

	"github.com/clinicdesk/clinicdesk/libs/db"
)

// Notification is one delivery attempt record, kept for support and audit.
type Notification struct {
	AppointmentID string
	PatientID     string
	Kind          string // confirmation | reschedule | cancellation | reminder
	Channel       string // email | sms
	Recipient     string
	Payload       map[string]any
	Status        string // sent | failed
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, patient_id, kind, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.AppointmentID, n.PatientID, n.Kind, n.Channel, n.Recipient, payload, n.Status)
	return err
}
