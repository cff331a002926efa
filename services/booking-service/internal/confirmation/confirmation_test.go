package confirmation

import (
	"strings"
	"testing"
	"time"
)

func TestNewNumber_Format(t *testing.T) {
	now := time.Date(2026, 8, 28, 15, 4, 5, 0, time.UTC)
	n := NewNumber(now)

	if !strings.HasPrefix(n, "CD-20260828-") {
		t.Fatalf("unexpected prefix: %s", n)
	}
	suffix := strings.TrimPrefix(n, "CD-20260828-")
	if len(suffix) != suffixLen {
		t.Fatalf("suffix length %d, want %d", len(suffix), suffixLen)
	}
	for _, r := range suffix {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("suffix char %q outside alphabet", r)
		}
	}
}

func TestNewNumber_Distinct(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n := NewNumber(now)
		if seen[n] {
			t.Fatalf("duplicate reference after %d draws: %s", i, n)
		}
		seen[n] = true
	}
}
