package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pslib/urlshortener/internal/app/model"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

// HitPublisher hands hits to NATS JetStream for HitConsumer to record.
// Each event carries a fresh id as Nats-Msg-Id so a retried publish is
// stored once; the consumer stores it under the same id.
type HitPublisher struct {
	js       nats.JetStreamContext
	logger   *zap.Logger
	timeout  time.Duration
	fallback HitSink

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewHitPublisher creates a new hit event publisher allowing at most
// maxInFlight concurrent publishes; extra hits are dropped. When fallback is
// set, hits that fail to publish are passed to it instead of being dropped.
func NewHitPublisher(js nats.JetStreamContext, timeout time.Duration, maxInFlight int, fallback HitSink, logger *zap.Logger) *HitPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultHitTimeout
	}
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &HitPublisher{
		js:       js,
		logger:   logger,
		timeout:  timeout,
		fallback: fallback,
		slots:    make(chan struct{}, maxInFlight),
	}
}

// Publish publishes a hit event to the stream and waits for the ack.
func (p *HitPublisher) Publish(ctx context.Context, in HitInput) error {
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	event := model.HitEvent{
		ID:        uuid.New().String(),
		LinkID:    in.LinkID,
		Referer:   in.Referer,
		UserAgent: in.UserAgent,
		IP:        in.RemoteIP,
		IsBot:     in.IsBot,
		Timestamp: at,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode hit event: %w", err)
	}

	if _, err := p.js.Publish(model.HitStreamSubject, data, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish hit event: %w", err)
	}
	return nil
}

// Submit publishes in the background so the redirect never waits on NATS.
func (p *HitPublisher) Submit(in HitInput) {
	select {
	case p.slots <- struct{}{}:
	default:
		metrics.HitsPublishedTotal.WithLabelValues("dropped").Inc()
		p.logger.Warn("hit dropped, too many publishes in flight", zap.Int64("link_id", in.LinkID))
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.Publish(ctx, in); err != nil {
			metrics.HitsPublishedTotal.WithLabelValues("failed").Inc()
			p.logger.Error("failed to publish hit event", zap.Int64("link_id", in.LinkID), zap.Error(err))
			if p.fallback != nil {
				p.fallback.Submit(in)
			}
			return
		}
		metrics.HitsPublishedTotal.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until pending publishes finish or ctx ends.
func (p *HitPublisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
