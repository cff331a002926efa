// Package dispatch turns appointment events into patient-facing messages.
// Every attempt is persisted, and a sent/failed event is relayed for
// downstream analytics.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/email"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/outbox"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/sms"
	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/storage"
)

// AppointmentEvent is the superset of fields carried by the
// booking.appointment.*.v1 payloads; absent fields stay empty.
type AppointmentEvent struct {
	AppointmentID      string `json:"appointment_id"`
	ProviderID         string `json:"provider_id"`
	PatientID          string `json:"patient_id"`
	PatientEmail       string `json:"patient_email"`
	PatientPhone       string `json:"patient_phone"`
	ServiceName        string `json:"service_name"`
	ProviderName       string `json:"provider_name"`
	ConfirmationNumber string `json:"confirmation_number"`
	AppointmentDate    string `json:"appointment_date"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	Reason             string `json:"reason"`
	CancelledAt        string `json:"cancelled_at"`

	// Reschedule payloads carry the move instead of a single slot.
	FromDate  string `json:"from_date"`
	FromStart string `json:"from_start"`
	ToDate    string `json:"to_date"`
	ToStart   string `json:"to_start"`
	ToEnd     string `json:"to_end"`
}

// Notification kinds, also the `kind` column in the notifications table.
const (
	KindBookingReceived = "booking_received"
	KindConfirmation    = "confirmation"
	KindReschedule      = "reschedule"
	KindCancellation    = "cancellation"
	KindReminder        = "reminder"
)

// KindForEventType maps a consumed topic to a notification kind. Topics
// with no patient-facing message (completed, no_show) return "".
func KindForEventType(eventType string) string {
	switch eventType {
	case "booking.appointment.booked.v1":
		return KindBookingReceived
	case "booking.appointment.confirmed.v1":
		return KindConfirmation
	case "booking.appointment.rescheduled.v1":
		return KindReschedule
	case "booking.appointment.cancelled.v1":
		return KindCancellation
	}
	return ""
}

type Dispatcher struct {
	notifications *storage.Repository
	outboxRepo    *outbox.Repository
	email         email.Sender
	sms           sms.Sender
	logger        *slog.Logger
	now           func() time.Time
}

func New(notifications *storage.Repository, outboxRepo *outbox.Repository, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		outboxRepo:    outboxRepo,
		email:         emailSender,
		sms:           smsSender,
		logger:        logger,
		now:           time.Now,
	}
}

// Dispatch sends the message for kind over every channel the patient left
// contact details for. Per-channel failures are recorded, not retried; the
// event is consumed either way.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, evt AppointmentEvent) error {
	subject, body := d.compose(kind, evt)
	if body == "" {
		return nil
	}

	if to := strings.TrimSpace(evt.PatientEmail); to != "" {
		status, reason := "sent", ""
		if err := d.email.Send(to, subject, body); err != nil {
			status, reason = "failed", err.Error()
			d.logger.Error("email send failed", "err", err, "appointment_id", evt.AppointmentID, "kind", kind)
		}
		if err := d.record(ctx, kind, "email", to, status, reason, evt); err != nil {
			return err
		}
	}
	if to := strings.TrimSpace(evt.PatientPhone); to != "" {
		status, reason := "sent", ""
		if err := d.sms.Send(ctx, to, body); err != nil {
			status, reason = "failed", err.Error()
			d.logger.Error("sms send failed", "err", err, "appointment_id", evt.AppointmentID, "kind", kind)
		}
		if err := d.record(ctx, kind, "sms", to, status, reason, evt); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, kind, channel, recipient, status, reason string, evt AppointmentEvent) error {
	if err := d.notifications.Insert(ctx, storage.Notification{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		Kind:          kind,
		Channel:       channel,
		Recipient:     recipient,
		Payload: map[string]any{
			"confirmation_number": evt.ConfirmationNumber,
			"service_name":        evt.ServiceName,
			"provider_name":       evt.ProviderName,
		},
		Status: status,
	}); err != nil {
		return err
	}

	eventType := "notification.sent.v1"
	fields := map[string]any{
		"appointment_id": evt.AppointmentID,
		"patient_id":     evt.PatientID,
		"kind":           kind,
		"channel":        channel,
		"sent_at":        d.now().UTC().Format(time.RFC3339),
	}
	if status != "sent" {
		eventType = "notification.failed.v1"
		fields["error_reason"] = reason
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return d.outboxRepo.InsertStandalone(ctx, outbox.NotificationEvent(evt.AppointmentID, eventType, payload))
}

func (d *Dispatcher) compose(kind string, evt AppointmentEvent) (subject, body string) {
	clinic := evt.ProviderName
	if clinic == "" {
		clinic = "your clinic"
	}
	slot := fmt.Sprintf("%s at %s", evt.AppointmentDate, evt.StartTime)

	switch kind {
	case KindBookingReceived:
		return "Booking received",
			fmt.Sprintf("We received your %s booking with %s for %s. Your confirmation number is %s. It will be confirmed once the reservation payment completes.",
				evt.ServiceName, clinic, slot, evt.ConfirmationNumber)
	case KindConfirmation:
		return "Appointment confirmed",
			fmt.Sprintf("Your %s appointment with %s on %s is confirmed. Confirmation number: %s.",
				evt.ServiceName, clinic, slot, evt.ConfirmationNumber)
	case KindReschedule:
		return "Appointment rescheduled",
			fmt.Sprintf("Your appointment %s has moved from %s %s to %s %s.",
				evt.ConfirmationNumber, evt.FromDate, evt.FromStart, evt.ToDate, evt.ToStart)
	case KindCancellation:
		msg := fmt.Sprintf("Your appointment %s on %s has been cancelled.", evt.ConfirmationNumber, slot)
		if evt.Reason != "" {
			msg += " Reason: " + evt.Reason + "."
		}
		return "Appointment cancelled", msg
	case KindReminder:
		return "Appointment reminder",
			fmt.Sprintf("Reminder: your %s appointment with %s is on %s. Confirmation number: %s.",
				evt.ServiceName, clinic, slot, evt.ConfirmationNumber)
	}
	return "", ""
}
