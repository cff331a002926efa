package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// memStore mimics the repository's conditional single-row update: the write
// succeeds only when the stored state still matches the expectation.
type memStore struct {
	appts  map[string]model.Appointment
	events []string
}

func newMemStore(appts ...model.Appointment) *memStore {
	s := &memStore{appts: map[string]model.Appointment{}}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (s *memStore) ApplyTransition(_ context.Context, id string, expect Expect, change Change) (model.Appointment, error) {
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if expect.Status != nil && a.Status != *expect.Status {
		return model.Appointment{}, ErrInvalidTransition
	}
	if expect.PaymentStatus != nil && a.PaymentStatus != *expect.PaymentStatus {
		return model.Appointment{}, ErrInvalidTransition
	}
	if expect.ServicePaymentStatus != nil && a.ServicePaymentStatus != *expect.ServicePaymentStatus {
		return model.Appointment{}, ErrInvalidTransition
	}
	if change.Status != nil {
		a.Status = *change.Status
	}
	if change.PaymentStatus != nil {
		a.PaymentStatus = *change.PaymentStatus
	}
	if change.ServicePaymentStatus != nil {
		a.ServicePaymentStatus = *change.ServicePaymentStatus
	}
	if change.PaymentID != "" {
		a.PaymentID = change.PaymentID
	}
	if change.CancelReason != "" {
		a.CancelReason = change.CancelReason
	}
	if change.CancelledAt != nil {
		a.CancelledAt = change.CancelledAt
	}
	if change.EventType != "" {
		s.events = append(s.events, change.EventType)
	}
	s.appts[id] = a
	return a, nil
}

func testAppointment(status model.Status, payment model.PaymentStatus) model.Appointment {
	return model.Appointment{
		ID:                   "appt-1",
		ProviderID:           "prov-1",
		PatientID:            "pat-1",
		AppointmentDate:      "2026-09-02",
		StartMinute:          600,
		EndMinute:            630,
		Status:               status,
		PaymentStatus:        payment,
		ServicePaymentStatus: model.ServicePaymentPending,
	}
}

func newTestMachine(store Store) *Machine {
	return NewMachine(store, slog.Default())
}

func TestMachine_ConfirmReservationPaid(t *testing.T) {
	store := newMemStore(testAppointment(model.StatusPending, model.PaymentPending))
	m := newTestMachine(store)

	appt, err := m.ConfirmReservationPaid(context.Background(), "appt-1", "pay_123")
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", appt.Status)
	}
	if appt.PaymentStatus != model.PaymentReservationPaid {
		t.Fatalf("payment = %s, want reservation_paid", appt.PaymentStatus)
	}
	if appt.PaymentID != "pay_123" {
		t.Fatalf("payment id not recorded: %q", appt.PaymentID)
	}
	if len(store.events) != 1 || store.events[0] != "booking.appointment.confirmed.v1" {
		t.Fatalf("expected confirmed event, got %v", store.events)
	}
}

func TestMachine_TerminalStatesRejectTransitions(t *testing.T) {
	ctx := context.Background()
	for _, terminal := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		store := newMemStore(testAppointment(terminal, model.PaymentReservationPaid))
		m := newTestMachine(store)

		if _, err := m.Confirm(ctx, "appt-1"); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> confirmed: got %v, want ErrInvalidTransition", terminal, err)
		}
		if _, err := m.Complete(ctx, "appt-1"); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> completed: got %v, want ErrInvalidTransition", terminal, err)
		}
		// Cancelled is the exception: a repeat cancel acks instead of failing.
		if terminal == model.StatusCancelled {
			continue
		}
		if _, err := m.Cancel(ctx, "appt-1", "", false); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> cancelled: got %v, want ErrInvalidTransition", terminal, err)
		}
	}
}

func TestMachine_CancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testAppointment(model.StatusConfirmed, model.PaymentReservationPaid))
	m := newTestMachine(store)

	first, err := m.Cancel(ctx, "appt-1", "patient request", false)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if first.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", first.Status)
	}

	second, err := m.Cancel(ctx, "appt-1", "retry", false)
	if err != nil {
		t.Fatalf("repeat cancel: %v, want ack", err)
	}
	if second.Status != model.StatusCancelled {
		t.Fatalf("repeat cancel status = %s, want cancelled", second.Status)
	}
	if second.CancelReason != "patient request" {
		t.Fatalf("repeat cancel overwrote reason: %q", second.CancelReason)
	}
	if got := len(store.events); got != 1 {
		t.Fatalf("emitted %d cancelled events, want 1", got)
	}
}

func TestMachine_PendingCannotComplete(t *testing.T) {
	store := newMemStore(testAppointment(model.StatusPending, model.PaymentPending))
	m := newTestMachine(store)
	if _, err := m.Complete(context.Background(), "appt-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed: got %v, want ErrInvalidTransition", err)
	}
	if _, err := m.MarkNoShow(context.Background(), "appt-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> no_show: got %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_CancelWithRefund(t *testing.T) {
	store := newMemStore(testAppointment(model.StatusConfirmed, model.PaymentReservationPaid))
	m := newTestMachine(store)

	appt, err := m.Cancel(context.Background(), "appt-1", "patient request", true)
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", appt.Status)
	}
	if appt.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("payment = %s, want refunded", appt.PaymentStatus)
	}
	if appt.CancelledAt == nil || appt.CancelReason != "patient request" {
		t.Fatal("cancellation metadata not recorded")
	}
}

func TestMachine_RefundIsTerminalForPayment(t *testing.T) {
	store := newMemStore(testAppointment(model.StatusConfirmed, model.PaymentRefunded))
	m := newTestMachine(store)
	if _, err := m.MarkRefunded(context.Background(), "appt-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refunded -> refunded: got %v, want ErrInvalidTransition", err)
	}
	if _, err := m.MarkFullyPaid(context.Background(), "appt-1", "pay_9"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refunded -> fully_paid: got %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_PaymentLadder(t *testing.T) {
	store := newMemStore(testAppointment(model.StatusConfirmed, model.PaymentReservationPaid))
	m := newTestMachine(store)

	appt, err := m.MarkFullyPaid(context.Background(), "appt-1", "pay_2")
	if err != nil {
		t.Fatal(err)
	}
	if appt.PaymentStatus != model.PaymentFullyPaid {
		t.Fatalf("payment = %s, want fully_paid", appt.PaymentStatus)
	}
	// fully_paid can still be refunded but never walks backwards.
	if CanTransitionPayment(model.PaymentFullyPaid, model.PaymentReservationPaid) {
		t.Fatal("fully_paid -> reservation_paid must be rejected")
	}
	if !CanTransitionPayment(model.PaymentFullyPaid, model.PaymentRefunded) {
		t.Fatal("fully_paid -> refunded must be allowed")
	}
}

func TestMachine_SettleServicePayment(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(testAppointment(model.StatusCompleted, model.PaymentFullyPaid))
	m := newTestMachine(store)

	appt, err := m.SettleServicePayment(ctx, "appt-1", model.ServicePaymentPaid)
	if err != nil {
		t.Fatal(err)
	}
	if appt.ServicePaymentStatus != model.ServicePaymentPaid {
		t.Fatalf("service payment = %s, want paid", appt.ServicePaymentStatus)
	}
	// Both paid and waived are terminal on this axis.
	if _, err := m.SettleServicePayment(ctx, "appt-1", model.ServicePaymentWaived); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paid -> waived: got %v, want ErrInvalidTransition", err)
	}
}

func TestMachine_MissingAppointment(t *testing.T) {
	m := newTestMachine(newMemStore())
	if _, err := m.Confirm(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
