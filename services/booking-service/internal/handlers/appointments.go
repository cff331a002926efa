package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/payments"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/reschedule"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/storage"
)

// AppointmentHandler serves the lifecycle operations on existing
// appointments. The gateway injects X-Actor-Id and X-Role from the verified
// session; this service trusts them.
type AppointmentHandler struct {
	repo        *storage.AppointmentRepository
	machine     *lifecycle.Machine
	coordinator *reschedule.Coordinator
	gateway     payments.Gateway
	pricing     payments.Pricing
	logger      *slog.Logger
	now         func() time.Time
}

func NewAppointmentHandler(
	repo *storage.AppointmentRepository,
	machine *lifecycle.Machine,
	coordinator *reschedule.Coordinator,
	gateway payments.Gateway,
	pricing payments.Pricing,
	logger *slog.Logger,
) *AppointmentHandler {
	return &AppointmentHandler{
		repo:        repo,
		machine:     machine,
		coordinator: coordinator,
		gateway:     gateway,
		pricing:     pricing,
		logger:      logger,
		now:         time.Now,
	}
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewDate       string `json:"new_date"`       // YYYY-MM-DD
	NewStartTime  string `json:"new_start_time"` // HH:mm
	Reason        string `json:"reason"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type settleServiceRequest struct {
	AppointmentID string `json:"appointment_id"`
	Outcome       string `json:"outcome"` // paid | waived
}

type rescheduleEntryView struct {
	FromDate          string `json:"from_date"`
	FromStart         string `json:"from_start"`
	FromEnd           string `json:"from_end"`
	ToDate            string `json:"to_date"`
	ToStart           string `json:"to_start"`
	ToEnd             string `json:"to_end"`
	Reason            string `json:"reason,omitempty"`
	RescheduledBy     string `json:"rescheduled_by"`
	RescheduledByRole string `json:"rescheduled_by_role"`
	RescheduledAt     string `json:"rescheduled_at"`
}

type appointmentView struct {
	AppointmentID        string                `json:"appointment_id"`
	ProviderID           string                `json:"provider_id"`
	PatientID            string                `json:"patient_id"`
	ServiceID            string                `json:"service_id"`
	ServiceName          string                `json:"service_name"`
	ProviderName         string                `json:"provider_name"`
	PriceCents           int64                 `json:"price_cents"`
	TaxCents             int64                 `json:"tax_cents"`
	Date                 string                `json:"date"`
	StartTime            string                `json:"start_time"`
	EndTime              string                `json:"end_time"`
	Status               string                `json:"status"`
	PaymentStatus        string                `json:"payment_status"`
	ServicePaymentStatus string                `json:"service_payment_status"`
	RescheduleCount      int                   `json:"reschedule_count"`
	MaxReschedules       int                   `json:"max_reschedules"`
	RescheduleHistory    []rescheduleEntryView `json:"reschedule_history,omitempty"`
	ConfirmationNumber   string                `json:"confirmation_number"`
	CancelledAt          string                `json:"cancelled_at,omitempty"`
	CancelReason         string                `json:"cancel_reason,omitempty"`
	CreatedAt            string                `json:"created_at"`
}

func viewOf(appt model.Appointment) appointmentView {
	v := appointmentView{
		AppointmentID:        appt.ID,
		ProviderID:           appt.ProviderID,
		PatientID:            appt.PatientID,
		ServiceID:            appt.ServiceID,
		ServiceName:          appt.ServiceName,
		ProviderName:         appt.ProviderName,
		PriceCents:           appt.PriceCents,
		TaxCents:             appt.TaxCents,
		Date:                 appt.AppointmentDate,
		StartTime:            model.FormatMinute(appt.StartMinute),
		EndTime:              model.FormatMinute(appt.EndMinute),
		Status:               string(appt.Status),
		PaymentStatus:        string(appt.PaymentStatus),
		ServicePaymentStatus: string(appt.ServicePaymentStatus),
		RescheduleCount:      appt.RescheduleCount,
		MaxReschedules:       appt.MaxReschedules,
		ConfirmationNumber:   appt.ConfirmationNumber,
		CancelReason:         appt.CancelReason,
		CreatedAt:            appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		v.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	for _, e := range appt.RescheduleHistory {
		v.RescheduleHistory = append(v.RescheduleHistory, rescheduleEntryView{
			FromDate:          e.From.Date,
			FromStart:         model.FormatMinute(e.From.StartMinute),
			FromEnd:           model.FormatMinute(e.From.EndMinute),
			ToDate:            e.To.Date,
			ToStart:           model.FormatMinute(e.To.StartMinute),
			ToEnd:             model.FormatMinute(e.To.EndMinute),
			Reason:            e.Reason,
			RescheduledBy:     e.RescheduledBy,
			RescheduledByRole: string(e.RescheduledByRole),
			RescheduledAt:     e.RescheduledAt.UTC().Format(time.RFC3339),
		})
	}
	return v
}

// Reschedule moves an appointment to a new slot. Precondition failures map
// to distinct statuses so clients can tell "pick another slot" (409) apart
// from "no attempts left" (422).
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	actorID, role, ok := h.actor(w, r)
	if !ok {
		return
	}

	appt, err := h.coordinator.Reschedule(r.Context(), reschedule.Request{
		AppointmentID: req.AppointmentID,
		NewDate:       strings.TrimSpace(req.NewDate),
		NewStartTime:  strings.TrimSpace(req.NewStartTime),
		Reason:        strings.TrimSpace(req.Reason),
		ActorID:       actorID,
		ActorRole:     role,
	})
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

// Cancel cancels an appointment. When the reservation fee is refundable
// (paid, and more than the cutoff before the slot) the gateway refund runs
// first; the state change records the refund outcome.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.repo.Get(ctx, req.AppointmentID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	if appt.Status == model.StatusCancelled {
		// Repeat cancels ack the current state; no second refund.
		writeJSON(w, http.StatusOK, viewOf(appt))
		return
	}

	refunded := false
	if h.gateway != nil && appt.PaymentID != "" && payments.RefundEligible(appt, h.now().UTC()) {
		amount := h.reservationAmount(appt)
		if err := h.gateway.Refund(ctx, appt.PaymentID, amount, "appointment cancelled"); err != nil {
			h.logger.Error("refund failed", "err", err, "appointment_id", appt.ID, "payment_id", appt.PaymentID)
			http.Error(w, "refund failed, appointment not cancelled", http.StatusBadGateway)
			return
		}
		refunded = true
	}

	cancelled, err := h.machine.Cancel(ctx, req.AppointmentID, req.Reason, refunded)
	if err != nil {
		if refunded {
			// Money moved but the state change lost a race. Surface loudly;
			// reconciliation picks these up from the gateway dashboard.
			h.logger.Error("refund issued but cancel transition failed", "err", err, "appointment_id", appt.ID)
		}
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cancelled))
}

func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.machine.Complete)
}

func (h *AppointmentHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.machine.MarkNoShow)
}

// Confirm is the staff path for confirming a pay-at-clinic booking without
// an online reservation payment.
func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.machine.Confirm)
}

// SettleService records the in-person treatment fee outcome after the
// visit: paid or waived.
func (h *AppointmentHandler) SettleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req settleServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseServicePaymentStatus(req.Outcome)
	if err != nil || outcome == model.ServicePaymentPending {
		http.Error(w, "outcome must be paid or waived", http.StatusBadRequest)
		return
	}

	appt, err := h.machine.SettleServicePayment(r.Context(), req.AppointmentID, outcome)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

// List returns appointments for a patient, or for a provider on one date.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	var (
		appts []model.Appointment
		err   error
	)
	switch {
	case patientID != "":
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		appts, err = h.repo.ListByPatient(r.Context(), patientID, limit)
	case providerID != "" && date != "":
		if _, parseErr := model.ParseDate(date); parseErr != nil {
			http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		appts, err = h.repo.ListByProviderDate(r.Context(), providerID, date)
	default:
		http.Error(w, "patient_id, or provider_id with date, required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	items := make([]appointmentView, 0, len(appts))
	for _, appt := range appts {
		items = append(items, viewOf(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	appt, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *AppointmentHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := op(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(appt))
}

func (h *AppointmentHandler) actor(w http.ResponseWriter, r *http.Request) (string, model.ActorRole, bool) {
	actorID := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	roleRaw := strings.TrimSpace(r.Header.Get("X-Role"))
	if actorID == "" || roleRaw == "" {
		http.Error(w, "X-Actor-Id and X-Role headers required", http.StatusUnauthorized)
		return "", "", false
	}
	role, err := model.ParseActorRole(roleRaw)
	if err != nil {
		http.Error(w, "unknown role", http.StatusForbidden)
		return "", "", false
	}
	return actorID, role, true
}

func (h *AppointmentHandler) reservationAmount(appt model.Appointment) int64 {
	amount := h.pricing.ReservationFeeCents
	if total := appt.PriceCents + appt.TaxCents; amount > total {
		amount = total
	}
	return amount
}

func (h *AppointmentHandler) writeLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidSlot):
		http.Error(w, "invalid date or start time", http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrRescheduleLimitExceeded):
		http.Error(w, "reschedule limit exceeded", http.StatusUnprocessableEntity)
	case errors.Is(err, lifecycle.ErrNotReschedulable):
		http.Error(w, "appointment cannot be rescheduled", http.StatusConflict)
	case errors.Is(err, lifecycle.ErrSlotUnavailable):
		http.Error(w, "requested slot is not available", http.StatusConflict)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		http.Error(w, "invalid state transition", http.StatusConflict)
	case errors.Is(err, lifecycle.ErrTransient):
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("appointment operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
