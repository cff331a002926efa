package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

type fakeTemplates struct {
	tpl model.ScheduleTemplate
	err error
}

func (f fakeTemplates) TemplateFor(context.Context, string, int) (model.ScheduleTemplate, error) {
	return f.tpl, f.err
}

type fakeIntervals struct {
	busy []Interval
	err  error
}

func (f fakeIntervals) BookedIntervals(context.Context, string, string, string) ([]Interval, error) {
	return f.busy, f.err
}

// 2026-09-02 is a Wednesday.
const testDate = "2026-09-02"

func TestChecker_IsAvailable(t *testing.T) {
	busy := []Interval{{Start: 600, End: 630}} // 10:00-10:30 held
	checker := NewChecker(fakeTemplates{tpl: weekdayTemplate()}, fakeIntervals{busy: busy})
	ctx := context.Background()

	cases := []struct {
		name     string
		start    int
		duration int
		want     bool
	}{
		{"touching boundary is free", 630, 30, true},
		{"overlap is blocked", 585, 30, false}, // 09:45-10:15
		{"before open", 480, 30, false},
		{"runs past close", 1010, 30, false},
		{"inside break", 800, 30, false},
		{"plain free slot", 540, 30, true},
	}
	for _, tc := range cases {
		got, err := checker.IsAvailable(ctx, "prov-1", testDate, tc.start, tc.duration)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: IsAvailable(start=%d) = %v, want %v", tc.name, tc.start, got, tc.want)
		}
	}
}

func TestChecker_FailsClosedOnTemplateError(t *testing.T) {
	boom := errors.New("template store down")
	checker := NewChecker(fakeTemplates{err: boom}, fakeIntervals{})
	ctx := context.Background()

	ok, err := checker.IsAvailable(ctx, "prov-1", testDate, 540, 30)
	if ok {
		t.Fatal("template read failure must not report availability")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}

	slots, err := checker.ListAvailableSlots(ctx, "prov-1", testDate, 30)
	if len(slots) != 0 {
		t.Fatalf("template read failure must yield no slots, got %v", slots)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
}

func TestChecker_ListAvailableSlots_SnapshotIdempotent(t *testing.T) {
	busy := []Interval{{Start: 540, End: 570}}
	checker := NewChecker(fakeTemplates{tpl: weekdayTemplate()}, fakeIntervals{busy: busy})
	ctx := context.Background()

	first, err := checker.ListAvailableSlots(ctx, "prov-1", testDate, 30)
	if err != nil {
		t.Fatal(err)
	}
	second, err := checker.ListAvailableSlots(ctx, "prov-1", testDate, 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("repeated reads differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("repeated reads differ: %v vs %v", first, second)
		}
	}
	if containsMinute(first, 540) {
		t.Fatal("09:00 is booked and must not be offered")
	}
	// Ascending order, no interval overlapping the busy one.
	for i := 1; i < len(first); i++ {
		if first[i] <= first[i-1] {
			t.Fatalf("slots out of order: %v", first)
		}
	}
	for _, s := range first {
		if Overlaps(Interval{Start: s, End: s + 30}, busy[0]) {
			t.Fatalf("slot %d overlaps a booked interval", s)
		}
	}
}

func TestChecker_RejectsBadDate(t *testing.T) {
	checker := NewChecker(fakeTemplates{tpl: weekdayTemplate()}, fakeIntervals{})
	if ok, err := checker.IsAvailable(context.Background(), "prov-1", "02-09-2026", 540, 30); ok || err == nil {
		t.Fatal("malformed date must fail closed")
	}
}
