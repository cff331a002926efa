// Package handlers exposes the booking HTTP surface. Handlers validate and
// orchestrate; all scheduling and lifecycle decisions live in the
// availability, lifecycle, and reschedule packages.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/availability"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/confirmation"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/outbox"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/payments"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo       *storage.AppointmentRepository
	directory  *storage.DirectoryRepository
	outboxRepo *outbox.Repository
	checker    *availability.Checker
	gateway    payments.Gateway
	pricing    payments.Pricing
	logger     *slog.Logger
	now        func() time.Time
}

func NewBookingHandler(
	repo *storage.AppointmentRepository,
	directory *storage.DirectoryRepository,
	outboxRepo *outbox.Repository,
	checker *availability.Checker,
	gateway payments.Gateway,
	pricing payments.Pricing,
	logger *slog.Logger,
) *BookingHandler {
	return &BookingHandler{
		repo:       repo,
		directory:  directory,
		outboxRepo: outboxRepo,
		checker:    checker,
		gateway:    gateway,
		pricing:    pricing,
		logger:     logger,
		now:        time.Now,
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type createBookingRequest struct {
	ProviderID   string `json:"provider_id"`
	PatientID    string `json:"patient_id"`
	ServiceID    string `json:"service_id"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	Date         string `json:"date"`       // YYYY-MM-DD
	StartTime    string `json:"start_time"` // HH:mm
}

type createBookingResponse struct {
	AppointmentID      string `json:"appointment_id"`
	ConfirmationNumber string `json:"confirmation_number"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"payment_status"`
	PriceCents         int64  `json:"price_cents"`
	TaxCents           int64  `json:"tax_cents"`
	ReservationCents   int64  `json:"reservation_cents"`
	OrderID            string `json:"order_id,omitempty"`
	ClientSecret       string `json:"client_secret,omitempty"`
}

// Slots lists the free candidate start times for one provider, service, and
// date. Unknown service is a 404; a closed day is an empty list, not an
// error.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || serviceID == "" || date == "" {
		http.Error(w, "provider_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	if _, err := model.ParseDate(date); err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	svc, err := h.directory.GetService(r.Context(), serviceID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}

	starts, err := h.checker.ListAvailableSlots(r.Context(), providerID, date, svc.DurationMinutes)
	if err != nil {
		if errors.Is(err, lifecycle.ErrTransient) {
			http.Error(w, "availability temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{
			StartTime: model.FormatMinute(s),
			EndTime:   model.FormatMinute(s + svc.DurationMinutes),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Create books a pending appointment and opens the reservation-fee payment
// order. The insert re-validates the slot against the overlap constraint,
// so the advisory availability check losing a race still cannot
// double-book.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Date = strings.TrimSpace(req.Date)
	if req.ProviderID == "" || req.PatientID == "" || req.ServiceID == "" {
		http.Error(w, "provider_id, patient_id, and service_id are required", http.StatusBadRequest)
		return
	}
	if _, err := model.ParseDate(req.Date); err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	startMinute, err := model.ParseMinute(req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time (want HH:mm)", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	svc, err := h.directory.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load service", http.StatusInternalServerError)
		return
	}
	provider, err := h.directory.GetProvider(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load provider", http.StatusInternalServerError)
		return
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, _, err := h.repo.LockIdempotencyKey(ctx, tx, req.PatientID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if rec.Finalized() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// Advisory pre-check for a clean 409 on template misses; the insert's
	// overlap constraint is the arbiter under concurrency.
	ok, err := h.checker.IsAvailable(ctx, req.ProviderID, req.Date, startMinute, svc.DurationMinutes)
	if err != nil {
		if errors.Is(err, lifecycle.ErrTransient) {
			// Leave the idempotency key unfinalized so the client can retry it.
			http.Error(w, "availability temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "failed to check availability", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "requested slot is not available", http.StatusConflict)
		return
	}

	quote := h.pricing.QuoteFor(svc)
	confirmationNumber := confirmation.NewNumber(h.now().UTC())

	var order payments.Order
	if h.gateway != nil && quote.ReservationCents > 0 {
		order, err = h.gateway.CreateOrder(ctx, quote.ReservationCents, confirmationNumber)
		if err != nil {
			h.logger.Error("payment order creation failed", "err", err, "patient_id", req.PatientID)
			http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
			return
		}
	}

	appt := &model.Appointment{
		ProviderID:           req.ProviderID,
		PatientID:            req.PatientID,
		ServiceID:            req.ServiceID,
		PatientEmail:         strings.TrimSpace(req.PatientEmail),
		PatientPhone:         strings.TrimSpace(req.PatientPhone),
		ServiceName:          svc.Name,
		ProviderName:         provider.Name,
		PriceCents:           quote.PriceCents,
		TaxCents:             quote.TaxCents,
		AppointmentDate:      req.Date,
		StartMinute:          startMinute,
		EndMinute:            startMinute + svc.DurationMinutes,
		Status:               model.StatusPending,
		PaymentStatus:        model.PaymentPending,
		ServicePaymentStatus: model.ServicePaymentPending,
		MaxReschedules:       model.DefaultMaxReschedules,
		ConfirmationNumber:   confirmationNumber,
		OrderID:              order.OrderID,
	}
	if err := h.repo.Create(ctx, tx, appt); err != nil {
		if errors.Is(err, lifecycle.ErrSlotUnavailable) {
			http.Error(w, "requested slot is not available", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
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
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.AppointmentEvent(appt.ID, "booking.appointment.booked.v1", evtPayload)); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	resp := createBookingResponse{
		AppointmentID:      appt.ID,
		ConfirmationNumber: appt.ConfirmationNumber,
		Status:             string(appt.Status),
		PaymentStatus:      string(appt.PaymentStatus),
		PriceCents:         quote.PriceCents,
		TaxCents:           quote.TaxCents,
		ReservationCents:   quote.ReservationCents,
		OrderID:            order.OrderID,
		ClientSecret:       order.ClientSecret,
	}
	respBody, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, req.PatientID, idempotencyKey, appt.ID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"date", appt.AppointmentDate,
		"start", model.FormatMinute(appt.StartMinute),
		"confirmation_number", appt.ConfirmationNumber,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Services lists the bookable treatments with duration and listed price.
func (h *BookingHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	services, err := h.directory.ListServices(r.Context())
	if err != nil {
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	type serviceItem struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
		PriceCents      int64  `json:"price_cents"`
	}
	items := make([]serviceItem, 0, len(services))
	for _, svc := range services {
		items = append(items, serviceItem{ID: svc.ID, Name: svc.Name, DurationMinutes: svc.DurationMinutes, PriceCents: svc.PriceCents})
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
