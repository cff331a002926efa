package availability

import (
	"context"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// TemplateSource reads a provider's weekly availability template.
// Implementations must return lifecycle.ErrNotFound-compatible errors when
// the provider has no template for the weekday.
type TemplateSource interface {
	TemplateFor(ctx context.Context, providerID string, weekday int) (model.ScheduleTemplate, error)
}

// IntervalSource reads the intervals already held by pending or confirmed
// appointments for one provider on one date. A non-empty excludeID drops
// that appointment's own interval, so a reschedule does not collide with
// the slot it is vacating.
type IntervalSource interface {
	BookedIntervals(ctx context.Context, providerID, date, excludeID string) ([]Interval, error)
}

// Checker answers point-in-time availability questions. Results carry no
// lock; the write-time exclusion constraint is the arbiter under races.
type Checker struct {
	templates TemplateSource
	booked    IntervalSource
}

func NewChecker(templates TemplateSource, booked IntervalSource) *Checker {
	return &Checker{templates: templates, booked: booked}
}

// IsAvailable reports whether [startMinute, startMinute+duration) on date is
// inside the provider's template and free of conflicts. Any read failure
// fails closed.
func (c *Checker) IsAvailable(ctx context.Context, providerID, date string, startMinute, durationMinutes int) (bool, error) {
	return c.IsAvailableExcluding(ctx, providerID, date, startMinute, durationMinutes, "")
}

// IsAvailableExcluding is IsAvailable with one appointment's own interval
// ignored; the reschedule coordinator uses it so a move within the same day
// is not blocked by the slot being vacated.
func (c *Checker) IsAvailableExcluding(ctx context.Context, providerID, date string, startMinute, durationMinutes int, excludeID string) (bool, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return false, err
	}

	tpl, err := c.templates.TemplateFor(ctx, providerID, int(day.Weekday()))
	if err != nil {
		return false, err
	}
	if !c.fitsTemplate(tpl, startMinute, durationMinutes) {
		return false, nil
	}

	busy, err := c.booked.BookedIntervals(ctx, providerID, date, excludeID)
	if err != nil {
		return false, err
	}
	candidate := Interval{Start: startMinute, End: startMinute + durationMinutes}
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return false, nil
		}
	}
	return true, nil
}

// ListAvailableSlots returns the free candidate start minutes for date in
// ascending order. Template read failures yield an empty result plus the
// error, never an optimistic list.
func (c *Checker) ListAvailableSlots(ctx context.Context, providerID, date string, durationMinutes int) ([]int, error) {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}

	tpl, err := c.templates.TemplateFor(ctx, providerID, int(day.Weekday()))
	if err != nil {
		return nil, err
	}

	candidates := GenerateSlots(tpl, durationMinutes, DefaultStepMinutes)
	if len(candidates) == 0 {
		return nil, nil
	}

	busy, err := c.booked.BookedIntervals(ctx, providerID, date, "")
	if err != nil {
		return nil, err
	}
	return FilterBooked(candidates, durationMinutes, busy), nil
}

func (c *Checker) fitsTemplate(tpl model.ScheduleTemplate, startMinute, durationMinutes int) bool {
	if !tpl.IsAvailable || durationMinutes <= 0 {
		return false
	}
	end := startMinute + durationMinutes
	if startMinute < tpl.OpenMinute || end > tpl.CloseMinute {
		return false
	}
	if tpl.BreakStart != nil && tpl.BreakEnd != nil && *tpl.BreakEnd > *tpl.BreakStart {
		if Overlaps(Interval{Start: startMinute, End: end}, Interval{Start: *tpl.BreakStart, End: *tpl.BreakEnd}) {
			return false
		}
	}
	return true
}
