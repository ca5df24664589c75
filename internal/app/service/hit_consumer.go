package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pslib/urlshortener/internal/app/model"
	natsclient "github.com/pslib/urlshortener/internal/infra/nats"
	"go.uber.org/zap"
)

const (
	hitFetchBatch   = 10
	hitFetchWait    = 5 * time.Second
	hitMaxDeliver   = 5
	hitAckWait      = 30 * time.Second
	hitFetchBackoff = time.Second
)

// HitConsumer consumes hit events from NATS JetStream and records them.
type HitConsumer struct {
	js       nats.JetStreamContext
	recorder *HitRecorder
	logger   *zap.Logger
	timeout  time.Duration
	done     chan struct{}
}

// NewHitConsumer creates a new hit event consumer.
func NewHitConsumer(js nats.JetStreamContext, recorder *HitRecorder, timeout time.Duration, logger *zap.Logger) *HitConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultHitTimeout
	}
	return &HitConsumer{js: js, recorder: recorder, logger: logger, timeout: timeout, done: make(chan struct{})}
}

// Start provisions the stream and durable consumer, then consumes until ctx ends.
func (c *HitConsumer) Start(ctx context.Context) error {
	err := natsclient.EnsureStream(c.js, &nats.StreamConfig{
		Name:       model.HitStreamName,
		Subjects:   []string{model.HitStreamSubject},
		MaxBytes:   model.HitStreamMaxBytes,
		Duplicates: model.HitStreamDuplicates,
		Storage:    nats.FileStorage,
	})
	if err != nil {
		return err
	}

	err = natsclient.EnsureConsumer(c.js, model.HitStreamName, &nats.ConsumerConfig{
		Durable:       model.HitConsumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       hitAckWait,
		MaxDeliver:    hitMaxDeliver,
		FilterSubject: model.HitStreamSubject,
	})
	if err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(model.HitStreamSubject, model.HitConsumerName, nats.Bind(model.HitStreamName, model.HitConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *HitConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *HitConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe hit consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("hit consumer stopped")
			return
		}

		msgs, err := sub.Fetch(hitFetchBatch, nats.MaxWait(hitFetchWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch hit events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(hitFetchBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg, msg.Data)
		}
	}
}

// acker is the acknowledgement side of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// handle records one event. Redeliveries of an already stored event are
// acked without counting twice.
func (c *HitConsumer) handle(ctx context.Context, msg acker, data []byte) {
	var event model.HitEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Error("dropping undecodable hit event", zap.Error(err))
		_ = msg.Term()
		return
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	err := c.recorder.Record(recordCtx, HitInput{
		EventID:   event.ID,
		LinkID:    event.LinkID,
		Referer:   event.Referer,
		UserAgent: event.UserAgent,
		RemoteIP:  event.IP,
		IsBot:     event.IsBot,
		At:        event.Timestamp,
	})
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ErrNotFound):
		// The link was purged after the redirect; nothing left to count.
		c.logger.Warn("hit for unknown link dropped", zap.String("id", event.ID), zap.Int64("link_id", event.LinkID))
		_ = msg.Term()
	default:
		c.logger.Error("failed to record hit event",
			zap.String("id", event.ID),
			zap.Int64("link_id", event.LinkID),
			zap.Error(err))
		_ = msg.Nak()
	}
}
