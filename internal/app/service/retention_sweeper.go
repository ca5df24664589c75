package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pslib/urlshortener/internal/app/repository"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultRetentionSchedule = "@every 1h"
	defaultRetention         = 30 * 24 * time.Hour
	sweepTimeout             = 5 * time.Minute
)

// RetentionSweeper periodically purges links that stayed soft-deleted past
// the retention period, along with their hits.
type RetentionSweeper struct {
	links     repository.LinkRepository
	cache     ResolveCache
	logger    *zap.Logger
	retention time.Duration
	schedule  string
	now       func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetentionSweeper creates a sweeper. schedule uses cron syntax including
// descriptors such as "@every 1h". cache may be nil.
func NewRetentionSweeper(links repository.LinkRepository, cache ResolveCache, logger *zap.Logger, schedule string, retention time.Duration) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = defaultRetentionSchedule
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionSweeper{
		links:     links,
		cache:     cache,
		logger:    logger,
		retention: retention,
		schedule:  schedule,
		now:       func() time.Time { return time.Now().UTC() },
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the sweep.
func (s *RetentionSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper started",
		zap.String("schedule", s.schedule),
		zap.Duration("retention", s.retention),
	)
	return nil
}

// Stop cancels a running sweep and waits for it to return.
func (s *RetentionSweeper) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}

func (s *RetentionSweeper) run() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	// Failures are retried on the next tick.
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
	}
}

// Sweep purges every link soft-deleted before now minus the retention
// period and returns how many were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)

	purged, err := s.links.PurgeDeleted(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deleted links: %w", err)
	}
	if len(purged) == 0 {
		return 0, nil
	}

	metrics.LinksPurgedTotal.Add(float64(len(purged)))

	codes := make([]string, len(purged))
	for i := range purged {
		codes[i] = purged[i].Code
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, codes...); err != nil {
			s.logger.Warn("failed to invalidate resolve cache after purge", zap.Error(err))
		}
	}

	s.logger.Info("purged soft-deleted links",
		zap.Int("count", len(purged)),
		zap.Time("deleted_before", cutoff),
	)
	return len(purged), nil
}
