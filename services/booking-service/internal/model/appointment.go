package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the appointment lifecycle state. Values are stored lowercase;
// ParseStatus is the single normalization boundary for data read back from
// the repository or received over the wire.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return s, nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
}

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Active statuses are the ones that hold a slot: only pending and confirmed
// appointments block other bookings for the same provider interval.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// PaymentStatus tracks the online reservation fee.
type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pending"
	PaymentReservationPaid PaymentStatus = "reservation_paid"
	PaymentFullyPaid       PaymentStatus = "fully_paid"
	PaymentRefunded        PaymentStatus = "refunded"
)

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch s := PaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case PaymentPending, PaymentReservationPaid, PaymentFullyPaid, PaymentRefunded:
		return s, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
}

// ServicePaymentStatus tracks the treatment fee settled in person at the
// clinic. It is an independent axis from PaymentStatus.
type ServicePaymentStatus string

const (
	ServicePaymentPending ServicePaymentStatus = "pending"
	ServicePaymentPaid    ServicePaymentStatus = "paid"
	ServicePaymentWaived  ServicePaymentStatus = "waived"
)

func ParseServicePaymentStatus(raw string) (ServicePaymentStatus, error) {
	switch s := ServicePaymentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case ServicePaymentPending, ServicePaymentPaid, ServicePaymentWaived:
		return s, nil
	default:
		return "", fmt.Errorf("unknown service payment status %q", raw)
	}
}

// ActorRole identifies who performed a reschedule.
type ActorRole string

const (
	RolePatient ActorRole = "patient"
	RoleAdmin   ActorRole = "admin"
)

func ParseActorRole(raw string) (ActorRole, error) {
	switch r := ActorRole(strings.ToLower(strings.TrimSpace(raw))); r {
	case RolePatient, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown actor role %q", raw)
	}
}

// SlotRef pins one occupied interval: a calendar date plus a half-open
// minute-of-day range.
type SlotRef struct {
	Date        string `json:"date"` // YYYY-MM-DD
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

// RescheduleEntry is the append-only audit record of one slot move.
// Entries are created only by the reschedule coordinator and never mutated.
type RescheduleEntry struct {
	From              SlotRef   `json:"from"`
	To                SlotRef   `json:"to"`
	Reason            string    `json:"reason,omitempty"`
	RescheduledBy     string    `json:"rescheduled_by"`
	RescheduledByRole ActorRole `json:"rescheduled_by_role"`
	RescheduledAt     time.Time `json:"rescheduled_at"`
}

// Appointment is the unit of mutation. Status, payment fields,
// RescheduleCount, and RescheduleHistory change only through the lifecycle
// machine and the reschedule coordinator.
type Appointment struct {
	ID         string
	ProviderID string
	PatientID  string
	ServiceID  string

	// Contact details for confirmations and reminders, captured at booking.
	PatientEmail string
	PatientPhone string

	// Display fields denormalized from the provider/service rows at creation.
	// Read-optimization cache only; never consulted for scheduling decisions.
	ServiceName  string
	ProviderName string
	PriceCents   int64
	TaxCents     int64

	AppointmentDate string // YYYY-MM-DD
	StartMinute     int    // minute of day, 0-1439
	EndMinute       int    // exclusive

	Status               Status
	PaymentStatus        PaymentStatus
	ServicePaymentStatus ServicePaymentStatus

	RescheduleCount   int
	MaxReschedules    int
	RescheduleHistory []RescheduleEntry

	ConfirmationNumber string
	OrderID            string // payment gateway order reference
	PaymentID          string // payment gateway payment reference

	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultMaxReschedules is the policy cap applied at creation.
const DefaultMaxReschedules = 2

// DateLayout is the calendar-date wire and storage format.
const DateLayout = "2006-01-02"

// ParseDate validates a YYYY-MM-DD calendar date and returns it in UTC.
func ParseDate(raw string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(raw))
}

// MinutesPerDay bounds valid minute-of-day values.
const MinutesPerDay = 24 * 60

// ParseMinute converts an HH:mm clock string into a minute of day.
func ParseMinute(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:mm", raw)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinute renders a minute of day as HH:mm.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ScheduleTemplate is one provider's availability window for one weekday.
// Rows are edited by clinic staff out of band; the engine reads them fresh
// for every availability computation and never writes them.
type ScheduleTemplate struct {
	ProviderID  string
	Weekday     time.Weekday
	OpenMinute  int
	CloseMinute int
	BreakStart  *int
	BreakEnd    *int
	IsAvailable bool
}

// Provider is the bookable clinician record (source of truth for the
// denormalized display fields).
type Provider struct {
	ID        string
	Name      string
	Specialty string
}

// ClinicService is a bookable treatment with a fixed duration and listed price.
type ClinicService struct {
	ID              string
	Name            string
	DurationMinutes int
	PriceCents      int64
}
