//go:build protogen

package schedule

import (
	"context"
	"time"

	"github.com/clinicdesk/clinicdesk/libs/grpcx"
	clinicv1 "github.com/clinicdesk/clinicdesk/protos/gen/clinic/v1"
	"github.com/clinicdesk/clinicdesk/services/booking-service/internal/model"
)

type Provider interface {
	TemplateFor(ctx context.Context, providerID string, weekday int) (model.ScheduleTemplate, error)
}

type grpcProvider struct {
	client clinicv1.DirectoryServiceClient
}

// NewProvider dials the clinic-directory service. An empty address disables
// the remote source and callers fall back to the local template table.
func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: clinicv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) TemplateFor(ctx context.Context, providerID string, weekday int) (model.ScheduleTemplate, error) {
	resp, err := p.client.GetWeekdayTemplate(ctx, &clinicv1.WeekdayTemplateRequest{
		ProviderId: providerID,
		Weekday:    int32(weekday),
	})
	if err != nil {
		return model.ScheduleTemplate{}, err
	}
	tpl := model.ScheduleTemplate{
		ProviderID:  providerID,
		Weekday:     time.Weekday(weekday),
		OpenMinute:  int(resp.GetOpenMinute()),
		CloseMinute: int(resp.GetCloseMinute()),
		IsAvailable: resp.GetIsAvailable(),
	}
	if resp.GetBreakEnd() > resp.GetBreakStart() {
		start := int(resp.GetBreakStart())
		end := int(resp.GetBreakEnd())
		tpl.BreakStart = &start
		tpl.BreakEnd = &end
	}
	return tpl, nil
}
