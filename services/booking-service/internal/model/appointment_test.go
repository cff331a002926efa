package model

import "testing"

func TestParseStatus_Normalizes(t *testing.T) {
	cases := []struct {
		raw  string
		want Status
	}{
		{"pending", StatusPending},
		{"  Confirmed ", StatusConfirmed},
		{"NO_SHOW", StatusNoShow},
		{"cancelled", StatusCancelled},
	}
	for _, tc := range cases {
		got, err := ParseStatus(tc.raw)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseStatus_RejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "booked", "no-show", "done"} {
		if _, err := ParseStatus(raw); err == nil {
			t.Fatalf("ParseStatus(%q) should fail", raw)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.Active() {
			t.Fatalf("%s should not hold a slot", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusConfirmed} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.Active() {
			t.Fatalf("%s should hold a slot", s)
		}
	}
}

func TestMinuteRoundTrip(t *testing.T) {
	cases := []struct {
		raw    string
		minute int
	}{
		{"00:00", 0},
		{"09:00", 540},
		{"13:30", 810},
		{"23:59", 1439},
	}
	for _, tc := range cases {
		m, err := ParseMinute(tc.raw)
		if err != nil {
			t.Fatalf("ParseMinute(%q): %v", tc.raw, err)
		}
		if m != tc.minute {
			t.Fatalf("ParseMinute(%q) = %d, want %d", tc.raw, m, tc.minute)
		}
		if got := FormatMinute(m); got != tc.raw {
			t.Fatalf("FormatMinute(%d) = %q, want %q", m, got, tc.raw)
		}
	}
}

func TestParseMinute_Rejects(t *testing.T) {
	for _, raw := range []string{"24:00", "9:99", "morning", ""} {
		if _, err := ParseMinute(raw); err == nil {
			t.Fatalf("ParseMinute(%q) should fail", raw)
		}
	}
}
