package reschedule

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

type memStore struct {
	appts map[string]model.Appointment
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
		return model.Appointment{}, lifecycle.ErrNotFound
	}
	return a, nil
}

func (s *memStore) MoveSlot(_ context.Context, move Move) (model.Appointment, error) {
	a, ok := s.appts[move.ID]
	if !ok {
		return model.Appointment{}, lifecycle.ErrNotFound
	}
	if a.Status != move.FromStatus || a.RescheduleCount != move.FromRescheduleCount {
		return model.Appointment{}, lifecycle.ErrNotReschedulable
	}
	a.AppointmentDate = move.NewDate
	a.StartMinute = move.NewStartMinute
	a.EndMinute = move.NewEndMinute
	a.RescheduleHistory = append(a.RescheduleHistory, move.Entry)
	a.RescheduleCount++
	if move.PromoteToConfirmed {
		a.Status = model.StatusConfirmed
	}
	s.appts[move.ID] = a
	return a, nil
}

// availableChecker answers from a fixed map of "date HH:mm" -> free.
type availableChecker struct {
	free map[string]bool
	err  error
}

func (c availableChecker) IsAvailableExcluding(_ context.Context, _ string, date string, start, _ int, _ string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.free[date+" "+model.FormatMinute(start)], nil
}

func baseAppointment() model.Appointment {
	return model.Appointment{
		ID:              "appt-1",
		ProviderID:      "prov-1",
		PatientID:       "pat-1",
		AppointmentDate: "2026-09-02",
		StartMinute:     600,
		EndMinute:       630,
		Status:          model.StatusConfirmed,
		PaymentStatus:   model.PaymentReservationPaid,
		MaxReschedules:  2,
	}
}

func request(date, start string) Request {
	return Request{
		AppointmentID: "appt-1",
		NewDate:       date,
		NewStartTime:  start,
		Reason:        "conflict",
		ActorID:       "pat-1",
		ActorRole:     model.RolePatient,
	}
}

func newTestCoordinator(store Store, checker SlotChecker) *Coordinator {
	c := NewCoordinator(store, checker, slog.Default())
	c.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestReschedule_Success(t *testing.T) {
	store := newMemStore(baseAppointment())
	c := newTestCoordinator(store, availableChecker{free: map[string]bool{"2026-09-03 11:00": true}})

	appt, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if err != nil {
		t.Fatal(err)
	}
	if appt.AppointmentDate != "2026-09-03" || appt.StartMinute != 660 || appt.EndMinute != 690 {
		t.Fatalf("slot not moved: %s %d-%d", appt.AppointmentDate, appt.StartMinute, appt.EndMinute)
	}
	if appt.RescheduleCount != 1 || len(appt.RescheduleHistory) != 1 {
		t.Fatalf("count=%d history=%d, want 1/1", appt.RescheduleCount, len(appt.RescheduleHistory))
	}
	entry := appt.RescheduleHistory[0]
	if entry.From.Date != "2026-09-02" || entry.From.StartMinute != 600 || entry.From.EndMinute != 630 {
		t.Fatalf("from slot wrong: %+v", entry.From)
	}
	if entry.To.Date != "2026-09-03" || entry.To.StartMinute != 660 || entry.To.EndMinute != 690 {
		t.Fatalf("to slot wrong: %+v", entry.To)
	}
	if entry.RescheduledByRole != model.RolePatient || entry.RescheduledAt.IsZero() {
		t.Fatalf("audit fields wrong: %+v", entry)
	}
}

func TestReschedule_PreservesDuration(t *testing.T) {
	a := baseAppointment()
	a.EndMinute = a.StartMinute + 45
	store := newMemStore(a)
	c := newTestCoordinator(store, availableChecker{free: map[string]bool{"2026-09-03 09:00": true}})

	appt, err := c.Reschedule(context.Background(), request("2026-09-03", "09:00"))
	if err != nil {
		t.Fatal(err)
	}
	if appt.EndMinute-appt.StartMinute != 45 {
		t.Fatalf("duration changed: %d", appt.EndMinute-appt.StartMinute)
	}
}

func TestReschedule_PromotesPending(t *testing.T) {
	a := baseAppointment()
	a.Status = model.StatusPending
	store := newMemStore(a)
	c := newTestCoordinator(store, availableChecker{free: map[string]bool{"2026-09-03 11:00": true}})

	appt, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("pending reschedule should reconfirm, got %s", appt.Status)
	}
}

func TestReschedule_LimitExceeded(t *testing.T) {
	a := baseAppointment()
	a.RescheduleCount = 2
	store := newMemStore(a)
	// Slot is free; the limit check must fire first regardless.
	c := newTestCoordinator(store, availableChecker{free: map[string]bool{"2026-09-03 11:00": true}})

	_, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if !errors.Is(err, lifecycle.ErrRescheduleLimitExceeded) {
		t.Fatalf("got %v, want ErrRescheduleLimitExceeded", err)
	}
}

func TestReschedule_NotReschedulableStates(t *testing.T) {
	for _, status := range []model.Status{model.StatusCancelled, model.StatusCompleted, model.StatusNoShow} {
		a := baseAppointment()
		a.Status = status
		c := newTestCoordinator(newMemStore(a), availableChecker{free: map[string]bool{"2026-09-03 11:00": true}})

		_, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
		if !errors.Is(err, lifecycle.ErrNotReschedulable) {
			t.Fatalf("%s: got %v, want ErrNotReschedulable", status, err)
		}
	}
}

func TestReschedule_SlotUnavailableLeavesBookingIntact(t *testing.T) {
	store := newMemStore(baseAppointment())
	c := newTestCoordinator(store, availableChecker{free: map[string]bool{}})

	_, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if !errors.Is(err, lifecycle.ErrSlotUnavailable) {
		t.Fatalf("got %v, want ErrSlotUnavailable", err)
	}

	appt, _ := store.Get(context.Background(), "appt-1")
	if appt.AppointmentDate != "2026-09-02" || appt.StartMinute != 600 || appt.EndMinute != 630 {
		t.Fatalf("booking moved on failure: %s %d-%d", appt.AppointmentDate, appt.StartMinute, appt.EndMinute)
	}
	if appt.RescheduleCount != 0 || len(appt.RescheduleHistory) != 0 {
		t.Fatalf("failure must not touch count/history: %d/%d", appt.RescheduleCount, len(appt.RescheduleHistory))
	}
}

func TestReschedule_CheckerFailureIsNotUnavailable(t *testing.T) {
	boom := errors.New("repository timeout")
	c := newTestCoordinator(newMemStore(baseAppointment()), availableChecker{err: boom})

	_, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want underlying read error", err)
	}
	if errors.Is(err, lifecycle.ErrSlotUnavailable) {
		t.Fatal("a read failure must not masquerade as slot unavailable")
	}
}

func TestReschedule_ChronologicalHistory(t *testing.T) {
	store := newMemStore(baseAppointment())
	checker := availableChecker{free: map[string]bool{
		"2026-09-03 11:00": true,
		"2026-09-04 09:30": true,
		"2026-09-05 10:00": true,
	}}
	c := newTestCoordinator(store, checker)
	ctx := context.Background()

	if _, err := c.Reschedule(ctx, request("2026-09-03", "11:00")); err != nil {
		t.Fatal(err)
	}
	appt, err := c.Reschedule(ctx, request("2026-09-04", "09:30"))
	if err != nil {
		t.Fatal(err)
	}
	if appt.RescheduleCount != 2 || len(appt.RescheduleHistory) != 2 {
		t.Fatalf("count=%d history=%d, want 2/2", appt.RescheduleCount, len(appt.RescheduleHistory))
	}
	// Each entry's from matches the previous entry's to.
	if appt.RescheduleHistory[1].From != appt.RescheduleHistory[0].To {
		t.Fatalf("history not chained: %+v", appt.RescheduleHistory)
	}

	// Third attempt exceeds maxReschedules=2 even though the slot is free.
	_, err = c.Reschedule(ctx, request("2026-09-05", "10:00"))
	if !errors.Is(err, lifecycle.ErrRescheduleLimitExceeded) {
		t.Fatalf("got %v, want ErrRescheduleLimitExceeded", err)
	}
}

func TestReschedule_MissingAppointment(t *testing.T) {
	c := newTestCoordinator(newMemStore(), availableChecker{})
	_, err := c.Reschedule(context.Background(), request("2026-09-03", "11:00"))
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReschedule_RejectsMalformedInput(t *testing.T) {
	c := newTestCoordinator(newMemStore(baseAppointment()), availableChecker{})

	// A typo in the request is a validation failure, never reported as the
	// slot being taken.
	for _, req := range []Request{
		request("03/09/2026", "11:00"),
		request("2026-09-03", "11am"),
	} {
		_, err := c.Reschedule(context.Background(), req)
		if !errors.Is(err, lifecycle.ErrInvalidSlot) {
			t.Fatalf("Reschedule(%q, %q) = %v, want ErrInvalidSlot", req.NewDate, req.NewStartTime, err)
		}
		if errors.Is(err, lifecycle.ErrSlotUnavailable) {
			t.Fatalf("Reschedule(%q, %q) misreported as slot unavailable", req.NewDate, req.NewStartTime)
		}
	}
}
