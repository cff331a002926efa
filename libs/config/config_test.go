package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "value")
	if got := String("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("String() = %q, want value", got)
	}
	if got := String("CFG_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String() = %q, want fallback", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := RequiredString("CFG_TEST_REQ_UNSET"); err == nil {
		t.Fatal("RequiredString() on unset key should error")
	}
	t.Setenv("CFG_TEST_REQ", "set")
	v, err := RequiredString("CFG_TEST_REQ")
	if err != nil || v != "set" {
		t.Fatalf("RequiredString() = %q, %v", v, err)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	if got := Int("CFG_TEST_INT", 7); got != 42 {
		t.Fatalf("Int() = %d, want 42", got)
	}
	t.Setenv("CFG_TEST_INT", "not a number")
	if got := Int("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("Int() on garbage = %d, want fallback 7", got)
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{"on", true},
		{"0", false},
		{"false", false},
		{"anything", false},
	}
	for _, tc := range tests {
		t.Setenv("CFG_TEST_BOOL", tc.raw)
		if got := Bool("CFG_TEST_BOOL", true); got != tc.want {
			t.Errorf("Bool(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestMinutes(t *testing.T) {
	t.Setenv("CFG_TEST_MIN", "15")
	if got := Minutes("CFG_TEST_MIN", time.Minute); got != 15*time.Minute {
		t.Fatalf("Minutes() = %v, want 15m", got)
	}
	t.Setenv("CFG_TEST_MIN", "-3")
	if got := Minutes("CFG_TEST_MIN", time.Minute); got != time.Minute {
		t.Fatalf("Minutes() on negative = %v, want fallback", got)
	}
}

func TestPort(t *testing.T) {
	t.Setenv("CFG_TEST_PORT", "8084")
	p, err := Port("CFG_TEST_PORT", "8080")
	if err != nil || p != "8084" {
		t.Fatalf("Port() = %q, %v", p, err)
	}
	t.Setenv("CFG_TEST_PORT", "70000")
	if _, err := Port("CFG_TEST_PORT", "8080"); err == nil {
		t.Fatal("Port() out of range should error")
	}
}
