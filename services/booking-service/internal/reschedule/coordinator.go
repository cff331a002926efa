// Package reschedule validates and executes slot moves. It is the only
// writer of rescheduleHistory and rescheduleCount.
package reschedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// SlotChecker answers whether the target slot is free, ignoring the
// appointment's own current interval.
type SlotChecker interface {
	IsAvailableExcluding(ctx context.Context, providerID, date string, startMinute, durationMinutes int, excludeID string) (bool, error)
}

// Move is the single atomic update a successful reschedule performs: slot
// fields, history append, counter increment, and the optional pending ->
// confirmed promotion all land together or not at all.
type Move struct {
	ID string

	// Expected source state; the store folds these into the WHERE clause so
	// a concurrent change aborts the move with the original intact.
	FromStatus          model.Status
	FromRescheduleCount int

	NewDate        string
	NewStartMinute int
	NewEndMinute   int

	Entry              model.RescheduleEntry
	PromoteToConfirmed bool

	EventType    string
	EventPayload []byte
}

// Store executes Move against the repository. Implementations must map a
// write-time interval conflict to lifecycle.ErrSlotUnavailable and a
// non-matching source state to lifecycle.ErrNotReschedulable, leaving the
// original booking untouched in either case.
type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	MoveSlot(ctx context.Context, move Move) (model.Appointment, error)
}

// Request carries one reschedule attempt.
type Request struct {
	AppointmentID string
	NewDate       string // YYYY-MM-DD
	NewStartTime  string // HH:mm
	Reason        string
	ActorID       string
	ActorRole     model.ActorRole
}

type Coordinator struct {
	store   Store
	checker SlotChecker
	logger  *slog.Logger
	now     func() time.Time
}

func NewCoordinator(store Store, checker SlotChecker, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, checker: checker, logger: logger, now: time.Now}
}

// Reschedule moves an appointment to a new slot. Preconditions are checked
// in order, each with its own failure: reschedulable status, remaining
// attempts, then target availability. The service duration of the original
// booking is preserved; a reschedule of a pending appointment counts as a
// reconfirmation.
func (c *Coordinator) Reschedule(ctx context.Context, req Request) (model.Appointment, error) {
	if _, err := model.ParseDate(req.NewDate); err != nil {
		return model.Appointment{}, fmt.Errorf("%w: %v", lifecycle.ErrInvalidSlot, err)
	}
	newStart, err := model.ParseMinute(req.NewStartTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("%w: %v", lifecycle.ErrInvalidSlot, err)
	}

	appt, err := c.store.Get(ctx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	if !appt.Status.Active() {
		return model.Appointment{}, fmt.Errorf("%w: status is %s", lifecycle.ErrNotReschedulable, appt.Status)
	}
	if appt.RescheduleCount >= appt.MaxReschedules {
		return model.Appointment{}, fmt.Errorf("%w: %d of %d used", lifecycle.ErrRescheduleLimitExceeded, appt.RescheduleCount, appt.MaxReschedules)
	}

	duration := appt.EndMinute - appt.StartMinute
	ok, err := c.checker.IsAvailableExcluding(ctx, appt.ProviderID, req.NewDate, newStart, duration, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: %s %s", lifecycle.ErrSlotUnavailable, req.NewDate, req.NewStartTime)
	}

	newEnd := newStart + duration
	entry := model.RescheduleEntry{
		From: model.SlotRef{
			Date:        appt.AppointmentDate,
			StartMinute: appt.StartMinute,
			EndMinute:   appt.EndMinute,
		},
		To: model.SlotRef{
			Date:        req.NewDate,
			StartMinute: newStart,
			EndMinute:   newEnd,
		},
		Reason:            req.Reason,
		RescheduledBy:     req.ActorID,
		RescheduledByRole: req.ActorRole,
		RescheduledAt:     c.now().UTC(),
	}

	move := Move{
		ID:                  appt.ID,
		FromStatus:          appt.Status,
		FromRescheduleCount: appt.RescheduleCount,
		NewDate:             req.NewDate,
		NewStartMinute:      newStart,
		NewEndMinute:        newEnd,
		Entry:               entry,
		PromoteToConfirmed:  appt.Status == model.StatusPending,
		EventType:           "booking.appointment.rescheduled.v1",
	}
	move.EventPayload = c.eventPayload(appt, entry)

	moved, err := c.store.MoveSlot(ctx, move)
	if err != nil {
		return model.Appointment{}, err
	}
	c.logger.Info("appointment rescheduled",
		"appointment_id", moved.ID,
		"provider_id", moved.ProviderID,
		"from", entry.From.Date+" "+model.FormatMinute(entry.From.StartMinute),
		"to", entry.To.Date+" "+model.FormatMinute(entry.To.StartMinute),
		"count", moved.RescheduleCount,
		"actor_role", string(req.ActorRole),
	)
	return moved, nil
}

func (c *Coordinator) eventPayload(appt model.Appointment, entry model.RescheduleEntry) []byte {
	payload := map[string]any{
		"appointment_id":      appt.ID,
		"provider_id":         appt.ProviderID,
		"patient_id":          appt.PatientID,
		"patient_email":       appt.PatientEmail,
		"patient_phone":       appt.PatientPhone,
		"provider_name":       appt.ProviderName,
		"service_name":        appt.ServiceName,
		"confirmation_number": appt.ConfirmationNumber,
		"from_date":           entry.From.Date,
		"from_start":          model.FormatMinute(entry.From.StartMinute),
		"to_date":             entry.To.Date,
		"to_start":            model.FormatMinute(entry.To.StartMinute),
		"to_end":              model.FormatMinute(entry.To.EndMinute),
		"rescheduled_by_role": string(entry.RescheduledByRole),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("reschedule event payload marshal failed", "err", err, "appointment_id", appt.ID)
		return nil
	}
	return b
}
