package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/libs/db"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

// DirectoryRepository reads the clinic's reference data: providers, the
// services they offer, and the weekly schedule templates. These rows are
// maintained out of band; booking only ever reads them.
type DirectoryRepository struct {
	pool *db.Pool
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// TemplateFor returns the provider's availability window for one weekday
// (0 = Sunday). A provider with no row for the weekday is treated as
// closed, not missing.
func (r *DirectoryRepository) TemplateFor(ctx context.Context, providerID string, weekday int) (model.ScheduleTemplate, error) {
	tpl := model.ScheduleTemplate{ProviderID: providerID}
	var wd int
	err := r.pool.QueryRow(ctx, `
		SELECT weekday, open_minute, close_minute, break_start_minute, break_end_minute, is_available
		FROM schedule_templates
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, weekday).Scan(
		&wd,
		&tpl.OpenMinute,
		&tpl.CloseMinute,
		&tpl.BreakStart,
		&tpl.BreakEnd,
		&tpl.IsAvailable,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		tpl.Weekday = timeWeekday(weekday)
		tpl.IsAvailable = false
		return tpl, nil
	}
	if err != nil {
		return model.ScheduleTemplate{}, classify(err)
	}
	tpl.Weekday = timeWeekday(wd)
	return tpl, nil
}

func (r *DirectoryRepository) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(specialty, '')
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Specialty)
	if err != nil {
		return model.Provider{}, fmt.Errorf("provider %s: %w", id, classify(err))
	}
	return p, nil
}

func (r *DirectoryRepository) GetService(ctx context.Context, id string) (model.ClinicService, error) {
	var svc model.ClinicService
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents
		FROM clinic_services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents)
	if err != nil {
		return model.ClinicService{}, fmt.Errorf("service %s: %w", id, classify(err))
	}
	return svc, nil
}

func (r *DirectoryRepository) ListServices(ctx context.Context) ([]model.ClinicService, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_minutes, price_cents
		FROM clinic_services
		ORDER BY name
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var services []model.ClinicService
	for rows.Next() {
		var svc model.ClinicService
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents); err != nil {
			return nil, classify(err)
		}
		services = append(services, svc)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err())
	}
	return services, nil
}

func timeWeekday(wd int) time.Weekday {
	return time.Weekday(((wd % 7) + 7) % 7)
}
