package availability

import "github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"

// DefaultStepMinutes is the scheduling granularity. Candidates advance by
// this step from the open time regardless of the service duration.
const DefaultStepMinutes = 30

// Interval is a half-open [Start, End) minute-of-day range.
type Interval struct {
	Start int
	End   int
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not conflict: a visit ending at 10:00 never blocks one
// starting at 10:00.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// GenerateSlots lists the candidate start minutes at which a visit of
// durationMinutes fits inside the template's open hours without touching the
// break window. A slot overlapping the break by any amount is excluded
// outright, never shortened. The result is empty (not an error) when the
// weekday is closed or the duration does not fit the open window.
func GenerateSlots(tpl model.ScheduleTemplate, durationMinutes, stepMinutes int) []int {
	if !tpl.IsAvailable || durationMinutes <= 0 {
		return nil
	}
	if stepMinutes <= 0 {
		stepMinutes = DefaultStepMinutes
	}
	if tpl.CloseMinute <= tpl.OpenMinute {
		return nil
	}

	var brk *Interval
	if tpl.BreakStart != nil && tpl.BreakEnd != nil && *tpl.BreakEnd > *tpl.BreakStart {
		brk = &Interval{Start: *tpl.BreakStart, End: *tpl.BreakEnd}
	}

	var slots []int
	for start := tpl.OpenMinute; start+durationMinutes <= tpl.CloseMinute; start += stepMinutes {
		candidate := Interval{Start: start, End: start + durationMinutes}
		if brk != nil && Overlaps(candidate, *brk) {
			continue
		}
		slots = append(slots, start)
	}
	return slots
}

// FilterBooked drops candidates whose interval overlaps any busy interval.
func FilterBooked(candidates []int, durationMinutes int, busy []Interval) []int {
	var free []int
	for _, start := range candidates {
		if !overlapsAny(Interval{Start: start, End: start + durationMinutes}, busy) {
			free = append(free, start)
		}
	}
	return free
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return true
		}
	}
	return false
}
