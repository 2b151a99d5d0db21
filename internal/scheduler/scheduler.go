// Package scheduler enqueues periodic syncs for every enabled integration.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"linecare/internal/model"
)

const DefaultSchedule = "0 * * * *"

// SyncEnqueuer is implemented by orchestrator.Jobs.
type SyncEnqueuer interface {
	EnqueueAll(ctx context.Context, action model.Action) (int, error)
}

type Scheduler struct {
	cron   *gocron.Scheduler
	jobs   SyncEnqueuer
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(jobs SyncEnqueuer, logger *zap.Logger) *Scheduler {
	if logger == nil { logger = zap.NewNop() }
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{cron: s, jobs: jobs, logger: logger, ctx: ctx, cancel: cancel}
}

// ScheduleSync registers the recurring "all" sync on a cron expression.
func (s *Scheduler) ScheduleSync(expr string) error {
	if expr == "" { expr = DefaultSchedule }
	job, err := s.cron.Cron(expr).Do(s.RunOnce)
	if err != nil { return err }
	job.Tag("erp-sync")
	s.logger.Info("scheduled integration sync", zap.String("cron", expr))
	return nil
}

// RunOnce enqueues one round of syncs.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	n, err := s.jobs.EnqueueAll(ctx, model.ActionAll)
	if err != nil {
		s.logger.Error("scheduled sync", zap.Error(err))
		return
	}
	s.logger.Info("scheduled sync enqueued", zap.Int("integrations", n))
}

func (s *Scheduler) Start() { s.cron.StartAsync() }

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
}
