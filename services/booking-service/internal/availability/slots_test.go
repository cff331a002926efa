package availability

import (
	"testing"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

func intPtr(v int) *int { return &v }

func weekdayTemplate() model.ScheduleTemplate {
	// 09:00-17:00 with a 13:00-14:00 lunch break.
	return model.ScheduleTemplate{
		ProviderID:  "prov-1",
		OpenMinute:  9 * 60,
		CloseMinute: 17 * 60,
		BreakStart:  intPtr(13 * 60),
		BreakEnd:    intPtr(14 * 60),
		IsAvailable: true,
	}
}

func containsMinute(slots []int, m int) bool {
	for _, s := range slots {
		if s == m {
			return true
		}
	}
	return false
}

func TestGenerateSlots_BreakFullyExcluded(t *testing.T) {
	slots := GenerateSlots(weekdayTemplate(), 30, 30)

	for _, want := range []string{"09:00", "12:30", "14:00", "16:30"} {
		m, _ := model.ParseMinute(want)
		if !containsMinute(slots, m) {
			t.Fatalf("expected slot at %s, got %v", want, slots)
		}
	}
	for _, banned := range []string{"13:00", "13:30", "17:00"} {
		m, _ := model.ParseMinute(banned)
		if containsMinute(slots, m) {
			t.Fatalf("slot at %s should be excluded, got %v", banned, slots)
		}
	}
	// 8h day minus the 1h break at 30-min steps.
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots, got %d: %v", len(slots), slots)
	}
}

func TestGenerateSlots_LongServiceExcludedAroundBreak(t *testing.T) {
	// A 90-minute service starting 12:00 would run into the 13:00 break:
	// excluded outright, not truncated.
	slots := GenerateSlots(weekdayTemplate(), 90, 30)
	noon, _ := model.ParseMinute("12:00")
	if containsMinute(slots, noon) {
		t.Fatalf("slot at 12:00 overlaps the break and should be excluded")
	}
	half, _ := model.ParseMinute("11:30")
	if !containsMinute(slots, half) {
		t.Fatalf("slot at 11:30 ends exactly at break start and should be offered")
	}
}

func TestGenerateSlots_UnavailableDay(t *testing.T) {
	tpl := weekdayTemplate()
	tpl.IsAvailable = false
	if slots := GenerateSlots(tpl, 30, 30); slots != nil {
		t.Fatalf("closed day should yield no slots, got %v", slots)
	}
}

func TestGenerateSlots_DurationExceedsWindow(t *testing.T) {
	tpl := model.ScheduleTemplate{OpenMinute: 9 * 60, CloseMinute: 10 * 60, IsAvailable: true}
	if slots := GenerateSlots(tpl, 120, 30); slots != nil {
		t.Fatalf("oversized duration should yield no slots, got %v", slots)
	}
}

func TestGenerateSlots_StepIsFixedGranularity(t *testing.T) {
	tpl := model.ScheduleTemplate{OpenMinute: 9 * 60, CloseMinute: 11 * 60, IsAvailable: true}
	// 20-minute service still advances on the 30-minute grid.
	slots := GenerateSlots(tpl, 20, 30)
	want := []int{540, 570, 600, 630}
	if len(slots) != len(want) {
		t.Fatalf("expected %v, got %v", want, slots)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, slots)
		}
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	booked := Interval{Start: 600, End: 630} // 10:00-10:30
	cases := []struct {
		name      string
		candidate Interval
		want      bool
	}{
		{"touching after", Interval{Start: 630, End: 660}, false},
		{"touching before", Interval{Start: 570, End: 600}, false},
		{"straddles start", Interval{Start: 585, End: 615}, true},
		{"contained", Interval{Start: 605, End: 625}, true},
		{"covers", Interval{Start: 570, End: 660}, true},
		{"disjoint", Interval{Start: 700, End: 730}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.candidate, booked); got != tc.want {
			t.Fatalf("%s: Overlaps(%v, %v) = %v, want %v", tc.name, tc.candidate, booked, got, tc.want)
		}
	}
}

func TestFilterBooked(t *testing.T) {
	candidates := []int{540, 570, 600, 630}
	busy := []Interval{{Start: 600, End: 630}}
	free := FilterBooked(candidates, 30, busy)
	want := []int{540, 570, 630}
	if len(free) != len(want) {
		t.Fatalf("expected %v, got %v", want, free)
	}
	for i := range want {
		if free[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, free)
		}
	}
}
