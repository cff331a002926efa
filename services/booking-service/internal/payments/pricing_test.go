package payments

import (
	"testing"
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

func TestQuoteFor(t *testing.T) {
	pricing := Pricing{TaxRateBasisPoints: 750, ReservationFeeCents: 2000}
	q := pricing.QuoteFor(model.ClinicService{PriceCents: 10_000})

	if q.TaxCents != 750 {
		t.Fatalf("tax = %d, want 750", q.TaxCents)
	}
	if q.ReservationCents != 2000 {
		t.Fatalf("reservation = %d, want 2000", q.ReservationCents)
	}
}

func TestQuoteFor_ReservationCappedAtTotal(t *testing.T) {
	pricing := Pricing{TaxRateBasisPoints: 0, ReservationFeeCents: 5000}
	q := pricing.QuoteFor(model.ClinicService{PriceCents: 1500})
	if q.ReservationCents != 1500 {
		t.Fatalf("reservation = %d, want capped 1500", q.ReservationCents)
	}
}

func TestRefundEligible(t *testing.T) {
	appt := model.Appointment{
		AppointmentDate: "2026-09-02",
		StartMinute:     600, // 10:00
		PaymentStatus:   model.PaymentReservationPaid,
	}

	early := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC) // 25h before
	if !RefundEligible(appt, early) {
		t.Fatal("cancellation a day ahead should refund")
	}

	late := time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC) // 23h before
	if RefundEligible(appt, late) {
		t.Fatal("cancellation inside the cutoff should not refund")
	}

	appt.PaymentStatus = model.PaymentPending
	if RefundEligible(appt, early) {
		t.Fatal("nothing paid, nothing to refund")
	}

	appt.PaymentStatus = model.PaymentRefunded
	if RefundEligible(appt, early) {
		t.Fatal("already refunded")
	}
}
