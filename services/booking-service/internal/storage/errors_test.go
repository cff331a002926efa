package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/lifecycle"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil passes through", nil, nil},
		{"no rows becomes not found", pgx.ErrNoRows, lifecycle.ErrNotFound},
		{
			"wrapped no rows becomes not found",
			fmt.Errorf("load appointment: %w", pgx.ErrNoRows),
			lifecycle.ErrNotFound,
		},
		{
			"exclusion violation becomes slot unavailable",
			&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"},
			lifecycle.ErrSlotUnavailable,
		},
		{"deadline becomes transient", context.DeadlineExceeded, lifecycle.ErrTransient},
		{"net timeout becomes transient", timeoutErr{}, lifecycle.ErrTransient},
		{
			"connection failure becomes transient",
			&pgconn.PgError{Code: "08006"},
			lifecycle.ErrTransient,
		},
		{
			"serialization failure becomes transient",
			&pgconn.PgError{Code: "40001"},
			lifecycle.ErrTransient,
		},
		{
			"deadlock becomes transient",
			&pgconn.PgError{Code: "40P01"},
			lifecycle.ErrTransient,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("classify() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v) = %v, want errors.Is %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyPassesThroughUnknownErrors(t *testing.T) {
	unknown := &pgconn.PgError{Code: "23505", ConstraintName: "appointments_confirmation_number_key"}
	got := classify(unknown)
	if !errors.Is(got, unknown) {
		t.Fatalf("classify() rewrote an error it should not touch: %v", got)
	}
	if errors.Is(got, lifecycle.ErrTransient) || errors.Is(got, lifecycle.ErrSlotUnavailable) {
		t.Fatalf("unique violation misclassified: %v", got)
	}
}

func TestIsConflict(t *testing.T) {
	conflict := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"})
	if !IsConflict(conflict) {
		t.Fatal("wrapped 23P01 not recognized as conflict")
	}
	if IsConflict(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unique violation must not read as an overlap conflict")
	}
	if IsConflict(nil) {
		t.Fatal("nil must not read as conflict")
	}
}
