// Package lifecycle owns the appointment status and payment state machines.
// Every mutation of status, payment_status, or service_payment_status flows
// through Machine; nothing else writes these fields.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

var statusTransitions = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
	// completed, cancelled, no_show are terminal.
}

// CanTransitionStatus reports whether the status graph allows from -> to.
func CanTransitionStatus(from, to model.Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment follows pending -> reservation_paid -> fully_paid,
// with refunded reachable from any non-refunded state and terminal.
func CanTransitionPayment(from, to model.PaymentStatus) bool {
	if to == model.PaymentRefunded {
		return from != model.PaymentRefunded
	}
	switch from {
	case model.PaymentPending:
		return to == model.PaymentReservationPaid
	case model.PaymentReservationPaid:
		return to == model.PaymentFullyPaid
	}
	return false
}

// CanTransitionServicePayment allows pending -> paid|waived, both terminal.
func CanTransitionServicePayment(from, to model.ServicePaymentStatus) bool {
	return from == model.ServicePaymentPending &&
		(to == model.ServicePaymentPaid || to == model.ServicePaymentWaived)
}

// Expect pins the source state a transition validates against. The store
// folds these into the WHERE clause of the single-row update, so a
// concurrent change makes the write match nothing instead of clobbering.
type Expect struct {
	Status               *model.Status
	PaymentStatus        *model.PaymentStatus
	ServicePaymentStatus *model.ServicePaymentStatus
}

// Change is the field set written by one atomic transition.
type Change struct {
	Status               *model.Status
	PaymentStatus        *model.PaymentStatus
	ServicePaymentStatus *model.ServicePaymentStatus
	PaymentID            string
	CancelReason         string
	CancelledAt          *time.Time

	// EventType/EventPayload, when set, are written to the outbox in the
	// same transaction as the state change.
	EventType    string
	EventPayload []byte
}

// Store is the persistence contract the machine drives. ApplyTransition
// performs one atomic single-document update that only succeeds when the
// stored state still matches expect; a non-matching source state returns
// ErrInvalidTransition and leaves the document unchanged.
type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ApplyTransition(ctx context.Context, id string, expect Expect, change Change) (model.Appointment, error)
}

type Machine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(store Store, logger *slog.Logger) *Machine {
	return &Machine{store: store, logger: logger, now: time.Now}
}

// Confirm moves pending -> confirmed without touching payment state
// (walk-in / pay-at-clinic confirmation path).
func (m *Machine) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return m.transitionStatus(ctx, id, model.StatusConfirmed, Change{})
}

// ConfirmReservationPaid moves pending -> confirmed together with
// payment pending -> reservation_paid, recording the gateway payment ref.
// This is the only path that confirms an online booking, and it runs only
// after the gateway webhook verified the payment.
func (m *Machine) ConfirmReservationPaid(ctx context.Context, id, paymentID string) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanTransitionStatus(appt.Status, model.StatusConfirmed) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, model.StatusConfirmed)
	}
	if !CanTransitionPayment(appt.PaymentStatus, model.PaymentReservationPaid) {
		return model.Appointment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, appt.PaymentStatus, model.PaymentReservationPaid)
	}

	status := model.StatusConfirmed
	payment := model.PaymentReservationPaid
	return m.store.ApplyTransition(ctx, id,
		Expect{Status: &appt.Status, PaymentStatus: &appt.PaymentStatus},
		Change{
			Status:        &status,
			PaymentStatus: &payment,
			PaymentID:     paymentID,
			EventType:     "booking.appointment.confirmed.v1",
			EventPayload:  m.eventPayload(appt, map[string]any{"payment_status": string(payment)}),
		},
	)
}

// Complete moves confirmed -> completed.
func (m *Machine) Complete(ctx context.Context, id string) (model.Appointment, error) {
	return m.transitionStatus(ctx, id, model.StatusCompleted, Change{})
}

// MarkNoShow moves confirmed -> no_show.
func (m *Machine) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	return m.transitionStatus(ctx, id, model.StatusNoShow, Change{})
}

// Cancel moves pending|confirmed -> cancelled. When refunded is true the
// payment axis moves to refunded in the same write; the machine records the
// outcome but never executes the refund itself. Cancelling an
// already-cancelled appointment is a no-op ack, not a transition failure.
func (m *Machine) Cancel(ctx context.Context, id, reason string, refunded bool) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	if !CanTransitionStatus(appt.Status, model.StatusCancelled) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, model.StatusCancelled)
	}

	expect := Expect{Status: &appt.Status}
	status := model.StatusCancelled
	cancelledAt := m.now().UTC()
	change := Change{
		Status:       &status,
		CancelReason: reason,
		CancelledAt:  &cancelledAt,
		EventType:    "booking.appointment.cancelled.v1",
	}
	extra := map[string]any{
		"cancelled_at": cancelledAt.Format(time.RFC3339),
		"reason":       reason,
	}
	if refunded {
		if !CanTransitionPayment(appt.PaymentStatus, model.PaymentRefunded) {
			return model.Appointment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, appt.PaymentStatus, model.PaymentRefunded)
		}
		expect.PaymentStatus = &appt.PaymentStatus
		refundedStatus := model.PaymentRefunded
		change.PaymentStatus = &refundedStatus
		extra["payment_status"] = string(refundedStatus)
	}
	change.EventPayload = m.eventPayload(appt, extra)

	return m.store.ApplyTransition(ctx, id, expect, change)
}

// MarkFullyPaid moves payment reservation_paid -> fully_paid. Status is
// untouched.
func (m *Machine) MarkFullyPaid(ctx context.Context, id, paymentID string) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanTransitionPayment(appt.PaymentStatus, model.PaymentFullyPaid) {
		return model.Appointment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, appt.PaymentStatus, model.PaymentFullyPaid)
	}
	paid := model.PaymentFullyPaid
	return m.store.ApplyTransition(ctx, id,
		Expect{PaymentStatus: &appt.PaymentStatus},
		Change{PaymentStatus: &paid, PaymentID: paymentID},
	)
}

// MarkRefunded records a refund outcome outside the cancel flow (for
// example a gateway-initiated refund reported by webhook).
func (m *Machine) MarkRefunded(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanTransitionPayment(appt.PaymentStatus, model.PaymentRefunded) {
		return model.Appointment{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, appt.PaymentStatus, model.PaymentRefunded)
	}
	refunded := model.PaymentRefunded
	return m.store.ApplyTransition(ctx, id,
		Expect{PaymentStatus: &appt.PaymentStatus},
		Change{PaymentStatus: &refunded},
	)
}

// SettleServicePayment records the in-person treatment fee outcome,
// pending -> paid|waived. Independent of the status axis.
func (m *Machine) SettleServicePayment(ctx context.Context, id string, to model.ServicePaymentStatus) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanTransitionServicePayment(appt.ServicePaymentStatus, to) {
		return model.Appointment{}, fmt.Errorf("%w: service payment %s -> %s", ErrInvalidTransition, appt.ServicePaymentStatus, to)
	}
	return m.store.ApplyTransition(ctx, id,
		Expect{ServicePaymentStatus: &appt.ServicePaymentStatus},
		Change{ServicePaymentStatus: &to},
	)
}

func (m *Machine) transitionStatus(ctx context.Context, id string, to model.Status, change Change) (model.Appointment, error) {
	appt, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !CanTransitionStatus(appt.Status, to) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}
	change.Status = &to
	if change.EventType == "" {
		change.EventType = eventTypeForStatus(to)
		change.EventPayload = m.eventPayload(appt, map[string]any{"status": string(to)})
	}
	return m.store.ApplyTransition(ctx, id, Expect{Status: &appt.Status}, change)
}

func eventTypeForStatus(to model.Status) string {
	switch to {
	case model.StatusConfirmed:
		return "booking.appointment.confirmed.v1"
	case model.StatusCompleted:
		return "booking.appointment.completed.v1"
	case model.StatusCancelled:
		return "booking.appointment.cancelled.v1"
	case model.StatusNoShow:
		return "booking.appointment.no_show.v1"
	}
	return ""
}

func (m *Machine) eventPayload(appt model.Appointment, extra map[string]any) []byte {
	payload := map[string]any{
		"appointment_id":      appt.ID,
		"provider_id":         appt.ProviderID,
		"patient_id":          appt.PatientID,
		"patient_email":       appt.PatientEmail,
		"patient_phone":       appt.PatientPhone,
		"service_name":        appt.ServiceName,
		"provider_name":       appt.ProviderName,
		"confirmation_number": appt.ConfirmationNumber,
		"appointment_date":    appt.AppointmentDate,
		"start_time":          model.FormatMinute(appt.StartMinute),
		"end_time":            model.FormatMinute(appt.EndMinute),
	}
	for k, v := range extra {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		// Payload fields are plain strings; this cannot fail in practice.
		m.logger.Error("event payload marshal failed", "err", err, "appointment_id", appt.ID)
		return nil
	}
	return b
}
