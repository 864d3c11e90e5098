// Package jobs runs the periodic maintenance passes: follow graph repair and
// the trash retention purge.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"pinboard/api/internal/config"
	"pinboard/api/internal/follow"
)

const defaultJobTimeout = 5 * time.Minute

type Maintainer interface {
	RepairFollowGraph(ctx context.Context) (follow.Report, error)
	PurgeExpiredTrash(ctx context.Context, cutoff time.Time) (int, error)
}

type Scheduler struct {
	cron       *cron.Cron
	maintainer Maintainer
	retention  time.Duration
	timeout    time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// NewScheduler registers the maintenance jobs from cfg. The retention job is
// only registered when a retention period is configured.
func NewScheduler(maintainer Maintainer, cfg config.Config, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		maintainer: maintainer,
		retention:  cfg.TrashRetention,
		timeout:    defaultJobTimeout,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	if _, err := s.cron.AddFunc(cfg.FollowRepairSchedule, s.job("follow_repair", s.RunRepair)); err != nil {
		return nil, fmt.Errorf("schedule follow repair %q: %w", cfg.FollowRepairSchedule, err)
	}
	if s.retention > 0 {
		if _, err := s.cron.AddFunc(cfg.RetentionSchedule, s.job("trash_retention", s.RunRetention)); err != nil {
			return nil, fmt.Errorf("schedule trash retention %q: %w", cfg.RetentionSchedule, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) RunRepair(ctx context.Context) error {
	_, err := s.maintainer.RepairFollowGraph(ctx)
	return err
}

// RunRetention purges cards that have sat in the trash longer than the
// retention period.
func (s *Scheduler) RunRetention(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	_, err := s.maintainer.PurgeExpiredTrash(ctx, s.now().Add(-s.retention))
	return err
}

func (s *Scheduler) job(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		started := time.Now()
		entry := s.logger.WithField("job", name)
		if err := run(ctx); err != nil {
			entry.WithError(err).Error("maintenance job failed")
			return
		}
		entry.WithField("duration_ms", time.Since(started).Milliseconds()).Debug("maintenance job finished")
	}
}
