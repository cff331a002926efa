package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/storage"
)

// WebhookHandler receives Stripe payment events. Signature verification is
// the auth; a booking is confirmed only after the gateway reports the
// reservation payment succeeded.
type WebhookHandler struct {
	repo      *storage.AppointmentRepository
	machine   *lifecycle.Machine
	logger    *slog.Logger
	secret    string
	tolerance time.Duration
}

type WebhookConfig struct {
	Secret           string
	ToleranceSeconds int
}

func NewWebhookHandler(repo *storage.AppointmentRepository, machine *lifecycle.Machine, logger *slog.Logger, cfg WebhookConfig) *WebhookHandler {
	tolSeconds := cfg.ToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &WebhookHandler{
		repo:      repo,
		machine:   machine,
		logger:    logger,
		secret:    strings.TrimSpace(cfg.Secret),
		tolerance: time.Duration(tolSeconds) * time.Second,
	}
}

func (h *WebhookHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		// A failed verification never confirms anything.
		h.logger.Warn("stripe signature verification failed", "err", lifecycle.ErrPaymentVerificationFailed)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	switch evtType {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		h.applyPaymentSucceeded(w, r, intent)
		return

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		// Failed reservation payments leave the booking pending; the slot
		// is released by cancellation, not by payment failure.
		h.logger.Warn("reservation payment failed", "order_id", intent.ID)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			h.logger.Error("stripe: invalid charge payload", "err", err)
			break
		}
		if charge.PaymentIntent != nil {
			h.applyRefunded(w, r, charge.PaymentIntent.ID)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *WebhookHandler) applyPaymentSucceeded(w http.ResponseWriter, r *http.Request, intent stripe.PaymentIntent) {
	appt, err := h.repo.FindByOrderID(r.Context(), intent.ID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			// Not one of ours (or already purged); ack so Stripe stops retrying.
			h.logger.Warn("payment intent without matching appointment", "order_id", intent.ID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		http.Error(w, "failed to resolve appointment", http.StatusInternalServerError)
		return
	}

	confirmed, err := h.machine.ConfirmReservationPaid(r.Context(), appt.ID, intent.ID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// Replayed event after the booking already confirmed, completed,
			// or was cancelled. Ack, do not fight the current state.
			h.logger.Info("payment event ignored for current state",
				"appointment_id", appt.ID, "status", appt.Status, "payment_status", appt.PaymentStatus)
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		http.Error(w, "failed to confirm appointment", http.StatusInternalServerError)
		return
	}

	h.logger.Info("appointment confirmed by payment",
		"appointment_id", confirmed.ID,
		"confirmation_number", confirmed.ConfirmationNumber,
		"order_id", intent.ID,
	)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *WebhookHandler) applyRefunded(w http.ResponseWriter, r *http.Request, intentID string) {
	appt, err := h.repo.FindByOrderID(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		http.Error(w, "failed to resolve appointment", http.StatusInternalServerError)
		return
	}

	if _, err := h.machine.MarkRefunded(r.Context(), appt.ID); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// Already refunded via the cancel flow.
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		http.Error(w, "failed to record refund", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
