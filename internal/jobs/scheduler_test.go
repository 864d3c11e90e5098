package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"pinboard/api/internal/config"
	"pinboard/api/internal/follow"
)

type fakeMaintainer struct {
	repairs  int
	cutoffs  []time.Time
	purgeErr error
}

func (f *fakeMaintainer) RepairFollowGraph(context.Context) (follow.Report, error) {
	f.repairs++
	return follow.Report{}, nil
}

func (f *fakeMaintainer) PurgeExpiredTrash(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, f.purgeErr
}

func TestNewSchedulerRegistersJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tests := []struct {
		name      string
		retention time.Duration
		entries   int
	}{
		{name: "repair only", retention: 0, entries: 1},
		{name: "repair and retention", retention: 30 * 24 * time.Hour, entries: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{FollowRepairSchedule: "@every 15m", RetentionSchedule: "@daily", TrashRetention: tt.retention}
			s, err := NewScheduler(&fakeMaintainer{}, cfg, logger)
			if err != nil {
				t.Fatalf("NewScheduler: %v", err)
			}
			if got := len(s.cron.Entries()); got != tt.entries {
				t.Fatalf("expected %d entries, got %d", tt.entries, got)
			}
		})
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewScheduler(&fakeMaintainer{}, config.Config{FollowRepairSchedule: "every so often"}, logger)
	if err == nil {
		t.Fatalf("expected invalid cron spec to fail")
	}
}

func TestRunRetentionUsesCutoff(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := &fakeMaintainer{}
	s, err := NewScheduler(m, config.Config{FollowRepairSchedule: "@hourly", RetentionSchedule: "@daily", TrashRetention: 48 * time.Hour}, logger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.RunRetention(context.Background()); err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if len(m.cutoffs) != 1 || !m.cutoffs[0].Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("unexpected cutoffs %v", m.cutoffs)
	}
	if err := s.RunRepair(context.Background()); err != nil || m.repairs != 1 {
		t.Fatalf("expected one repair, got %d (%v)", m.repairs, err)
	}
}

func TestJobLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := &fakeMaintainer{purgeErr: errors.New("db down")}
	s, err := NewScheduler(m, config.Config{FollowRepairSchedule: "@hourly", RetentionSchedule: "@daily", TrashRetention: time.Hour}, logger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.job("trash_retention", s.RunRetention)()

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "maintenance job failed" || entry.Data["job"] != "trash_retention" {
		t.Fatalf("unexpected log entry %+v", entry)
	}
}

func TestStopWaitsForScheduler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewScheduler(&fakeMaintainer{}, config.Config{FollowRepairSchedule: "@hourly"}, logger)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
