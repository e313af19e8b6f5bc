package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	tokenRefreshSpec   = "*/15 * * * *"
	tombstonePurgeSpec = "20 3 * * *"
	tombstoneRetention = 30 * 24 * time.Hour
	jobTimeout         = 5 * time.Minute
)

// TokenRefresher refreshes access tokens close to expiry
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context) (int, error)
}

// TombstonePurger removes old cancellation tombstones
type TombstonePurger interface {
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler manages background jobs
type Scheduler struct {
	cron      *cron.Cron
	refresher TokenRefresher
	purger    TombstonePurger
	logger    *zap.Logger
}

// NewScheduler creates a new job scheduler
func NewScheduler(refresher TokenRefresher, purger TombstonePurger, logger *zap.Logger) *Scheduler {
	logger = logger.Named("jobs")
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		refresher: refresher,
		purger:    purger,
		logger:    logger,
	}
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(tokenRefreshSpec, s.RefreshTokens); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(tombstonePurgeSpec, s.PurgeTombstones); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
}

// RefreshTokens refreshes every account whose token expires soon
func (s *Scheduler) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.refresher.RefreshExpiring(ctx)
	if err != nil {
		s.logger.Error("token refresh job failed", zap.Int("refreshed", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("refreshed access tokens", zap.Int("refreshed", n))
	}
}

// PurgeTombstones removes tombstones past their retention
func (s *Scheduler) PurgeTombstones() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.purger.PurgeTombstones(ctx, time.Now().UTC().Add(-tombstoneRetention))
	if err != nil {
		s.logger.Error("tombstone purge failed", zap.Error(err))
		return
	}
	s.logger.Info("purged cancellation tombstones", zap.Int64("deleted", n))
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	*zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, append(keysAndValues, "error", err)...)
}
