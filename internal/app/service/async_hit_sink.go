package service

import (
	"context"
	"sync"
	"time"

	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	defaultHitTimeout  = 5 * time.Second
	defaultMaxInFlight = 256
)

// AsyncHitSink records each hit on its own goroutine with its own deadline,
// detached from the request that produced it. Failures are logged and dropped.
type AsyncHitSink struct {
	recorder *HitRecorder
	logger   *zap.Logger
	timeout  time.Duration

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewAsyncHitSink returns a sink that allows at most maxInFlight concurrent
// writes; extra hits are dropped with a warning.
func NewAsyncHitSink(recorder *HitRecorder, timeout time.Duration, maxInFlight int, logger *zap.Logger) *AsyncHitSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultHitTimeout
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &AsyncHitSink{
		recorder: recorder,
		logger:   logger,
		timeout:  timeout,
		slots:    make(chan struct{}, maxInFlight),
	}
}

func (s *AsyncHitSink) Submit(in HitInput) {
	select {
	case s.slots <- struct{}{}:
	default:
		metrics.HitsRecordedTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("hit dropped, too many writes in flight", zap.Int64("link_id", in.LinkID))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.recorder.Record(ctx, in); err != nil {
			s.logger.Error("failed to record hit", zap.Int64("link_id", in.LinkID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight hits finish or ctx ends.
func (s *AsyncHitSink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
