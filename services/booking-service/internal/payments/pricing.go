package payments

import (
	"time"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// Pricing holds the clinic's fixed fee policy.
type Pricing struct {
	// TaxRateBasisPoints is the fixed tax applied to the listed service
	// price, e.g. 750 = 7.5%.
	TaxRateBasisPoints int64
	// ReservationFeeCents is the flat online prepayment that secures a
	// booking; the remainder is the treatment fee settled at the clinic.
	ReservationFeeCents int64
}

// Quote is the amount breakdown for one booking.
type Quote struct {
	PriceCents       int64
	TaxCents         int64
	ReservationCents int64
}

// QuoteFor computes the tax and reservation amounts from the listed price.
// No discounting and no proration; anything more belongs to the gateway's
// checkout, not the engine.
func (p Pricing) QuoteFor(svc model.ClinicService) Quote {
	tax := svc.PriceCents * p.TaxRateBasisPoints / 10_000
	res := p.ReservationFeeCents
	if total := svc.PriceCents + tax; res > total {
		res = total
	}
	return Quote{PriceCents: svc.PriceCents, TaxCents: tax, ReservationCents: res}
}

// RefundCutoff is how long before the slot a cancellation still refunds the
// reservation fee in full.
const RefundCutoff = 24 * time.Hour

// RefundEligible decides whether cancelling now refunds the reservation fee.
// Only reservation_paid and fully_paid appointments carry money to return.
func RefundEligible(appt model.Appointment, now time.Time) bool {
	switch appt.PaymentStatus {
	case model.PaymentReservationPaid, model.PaymentFullyPaid:
	default:
		return false
	}
	day, err := model.ParseDate(appt.AppointmentDate)
	if err != nil {
		return false
	}
	startAt := day.Add(time.Duration(appt.StartMinute) * time.Minute)
	return now.Add(RefundCutoff).Before(startAt)
}
