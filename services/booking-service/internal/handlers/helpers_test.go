package handlers

import (
	"io"
	"log/slog"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/payments"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultTestPricing() payments.Pricing {
	return payments.Pricing{TaxRateBasisPoints: 750, ReservationFeeCents: 2000}
}
