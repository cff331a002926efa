//go:build !protogen

// Package schedule resolves provider availability templates. Templates are
// owned by clinic staff tooling; the engine only ever reads them.
package schedule

import (
	"context"

	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// Provider fetches weekly templates from the clinic-directory service when
// one is deployed. Satisfies availability.TemplateSource.
type Provider interface {
	TemplateFor(ctx context.Context, providerID string, weekday int) (model.ScheduleTemplate, error)
}

// NewProvider returns nil in builds without generated gRPC stubs; callers
// fall back to the local schedule_templates table.
func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
