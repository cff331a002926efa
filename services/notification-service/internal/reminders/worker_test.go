package reminders

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/clinicdesk/clinicdesk/services/notification-service/internal/dispatch"
)

func TestSlotStart(t *testing.T) {
	tests := []struct {
		name    string
		evt     dispatch.AppointmentEvent
		want    string
		wantErr bool
	}{
		{
			name: "plain booking slot",
			evt:  dispatch.AppointmentEvent{AppointmentDate: "2026-09-14", StartTime: "10:30"},
			want: "2026-09-14T10:30:00Z",
		},
		{
			name: "reschedule prefers the destination slot",
			evt: dispatch.AppointmentEvent{
				AppointmentDate: "2026-09-14", StartTime: "10:30",
				ToDate: "2026-09-16", ToStart: "14:00",
			},
			want: "2026-09-16T14:00:00Z",
		},
		{
			name:    "missing slot fields",
			evt:     dispatch.AppointmentEvent{AppointmentID: "a1"},
			wantErr: true,
		},
		{
			name:    "garbage date",
			evt:     dispatch.AppointmentEvent{AppointmentDate: "14/09/2026", StartTime: "10:30"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := slotStart(tc.evt)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("slotStart() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("slotStart() error: %v", err)
			}
			if got.Format(time.RFC3339) != tc.want {
				t.Fatalf("slotStart() = %s, want %s", got.Format(time.RFC3339), tc.want)
			}
		})
	}
}

func TestBuildJobs(t *testing.T) {
	now := time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC)
	evt := dispatch.AppointmentEvent{
		AppointmentID:   "appt-1",
		AppointmentDate: "2026-09-14",
		StartTime:       "10:30",
	}
	offsets := []time.Duration{24 * time.Hour, 2 * time.Hour}

	jobs, err := buildJobs(evt, offsets, now)
	if err != nil {
		t.Fatalf("buildJobs() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	wantTimes := []string{"2026-09-13T10:30:00Z", "2026-09-14T08:30:00Z"}
	for i, job := range jobs {
		if got := job.RemindAt.UTC().Format(time.RFC3339); got != wantTimes[i] {
			t.Errorf("job %d remind_at = %s, want %s", i, got, wantTimes[i])
		}
		wantKey := "appt-1|" + wantTimes[i]
		if job.IdempotencyKey != wantKey {
			t.Errorf("job %d idempotency key = %q, want %q", i, job.IdempotencyKey, wantKey)
		}
	}
}

func TestBuildJobsSkipsPastReminders(t *testing.T) {
	// A day-before reminder for tomorrow morning has already passed.
	now := time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC)
	evt := dispatch.AppointmentEvent{
		AppointmentID:   "appt-1",
		AppointmentDate: "2026-09-14",
		StartTime:       "09:00",
	}

	jobs, err := buildJobs(evt, []time.Duration{24 * time.Hour, time.Hour}, now)
	if err != nil {
		t.Fatalf("buildJobs() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if got := jobs[0].RemindAt.UTC().Format(time.RFC3339); got != "2026-09-14T08:00:00Z" {
		t.Fatalf("remind_at = %s, want 2026-09-14T08:00:00Z", got)
	}
}

func TestBuildJobsNormalizesRescheduledSlot(t *testing.T) {
	now := time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC)
	evt := dispatch.AppointmentEvent{
		AppointmentID: "appt-1",
		FromDate:      "2026-09-14",
		FromStart:     "10:30",
		ToDate:        "2026-09-16",
		ToStart:       "14:00",
		ToEnd:         "14:30",
	}

	jobs, err := buildJobs(evt, []time.Duration{24 * time.Hour}, now)
	if err != nil {
		t.Fatalf("buildJobs() error: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}

	var stored dispatch.AppointmentEvent
	if err := json.Unmarshal(jobs[0].Payload, &stored); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if stored.AppointmentDate != "2026-09-16" || stored.StartTime != "14:00" || stored.EndTime != "14:30" {
		t.Fatalf("payload slot = %s %s-%s, want destination slot", stored.AppointmentDate, stored.StartTime, stored.EndTime)
	}
}
