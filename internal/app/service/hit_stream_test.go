package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
)

// fakeJetStream answers Publish from a function; every other JetStream call
// panics through the nil embedded interface.
type fakeJetStream struct {
	nats.JetStreamContext
	publishFn func(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

func (f *fakeJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return f.publishFn(subj, data, opts...)
}

type recordingSink struct {
	mu  sync.Mutex
	got []HitInput
}

func (s *recordingSink) Submit(in HitInput) {
	s.mu.Lock()
	s.got = append(s.got, in)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestHitPublisher_PublishesEvent(t *testing.T) {
	var subject string
	var event model.HitEvent
	js := &fakeJetStream{publishFn: func(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
		subject = subj
		if err := json.Unmarshal(data, &event); err != nil {
			t.Errorf("decode event: %v", err)
		}
		return &nats.PubAck{}, nil
	}}
	p := NewHitPublisher(js, time.Second, 4, nil, nil)

	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := p.Publish(context.Background(), HitInput{LinkID: 3, UserAgent: "Googlebot", IsBot: true, At: at}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if subject != model.HitStreamSubject {
		t.Fatalf("unexpected subject %q", subject)
	}
	if event.ID == "" || event.LinkID != 3 || !event.IsBot || !event.Timestamp.Equal(at) {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestHitPublisher_FallsBackOnFailure(t *testing.T) {
	js := &fakeJetStream{publishFn: func(string, []byte, ...nats.PubOpt) (*nats.PubAck, error) {
		return nil, nats.ErrNoResponders
	}}
	fallback := &recordingSink{}
	p := NewHitPublisher(js, time.Second, 4, fallback, nil)

	p.Submit(HitInput{LinkID: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if fallback.count() != 1 {
		t.Fatalf("expected the hit to reach the fallback, got %d", fallback.count())
	}
}

func TestHitPublisher_DropsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	calls := make(chan struct{}, 8)
	js := &fakeJetStream{publishFn: func(string, []byte, ...nats.PubOpt) (*nats.PubAck, error) {
		calls <- struct{}{}
		<-release
		return &nats.PubAck{}, nil
	}}
	p := NewHitPublisher(js, time.Second, 1, nil, nil)

	p.Submit(HitInput{LinkID: 1})
	<-calls
	for i := 0; i < 5; i++ {
		p.Submit(HitInput{LinkID: 2}) // dropped, the only slot is busy
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected extra hits to be dropped, got %d extra publishes", len(calls))
	}

	// The slot is free again once the publish returned.
	done := make(chan struct{})
	js.publishFn = func(string, []byte, ...nats.PubOpt) (*nats.PubAck, error) {
		close(done)
		return &nats.PubAck{}, nil
	}
	p.Submit(HitInput{LinkID: 3})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not recover after saturation")
	}
	_ = p.Wait(ctx)
}

type fakeAck struct {
	acked, naked, termed int
}

func (a *fakeAck) Ack(...nats.AckOpt) error  { a.acked++; return nil }
func (a *fakeAck) Nak(...nats.AckOpt) error  { a.naked++; return nil }
func (a *fakeAck) Term(...nats.AckOpt) error { a.termed++; return nil }

func encodeEvent(t *testing.T, event model.HitEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestHitConsumer_RedeliveryIsAckedOnce(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	link, err := s.service.CreateLink(ctx, alice, CreateLinkInput{Code: "queued", TargetURL: "https://e.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c := NewHitConsumer(nil, s.recorder, time.Second, nil)
	data := encodeEvent(t, model.HitEvent{
		ID:        "0b9e5d3e-2f55-4a8e-9f7a-2f0f5e0b1c2d",
		LinkID:    link.ID,
		UserAgent: "Mozilla/5.0",
		Timestamp: s.clock.Now(),
	})

	first, second := &fakeAck{}, &fakeAck{}
	c.handle(ctx, first, data)
	c.handle(ctx, second, data)

	if first.acked != 1 || second.acked != 1 || second.naked != 0 {
		t.Fatalf("both deliveries must be acked, got %+v %+v", first, second)
	}
	got, _ := s.links.GetByID(ctx, link.ID)
	if got.Clicks != 1 {
		t.Fatalf("redelivery must not count twice, got %d clicks", got.Clicks)
	}
	if _, total, _ := s.links.ListHits(ctx, link.ID, 10, 0); total != 1 {
		t.Fatalf("redelivery must not add a hit row, got %d", total)
	}
}

func TestHitConsumer_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		recordErr error
		want      fakeAck
	}{
		{"undecodable", []byte("{"), nil, fakeAck{termed: 1}},
		{"recorded", encodeEvent(t, model.HitEvent{ID: "a", LinkID: 1}), nil, fakeAck{acked: 1}},
		{"unknown link", encodeEvent(t, model.HitEvent{ID: "b", LinkID: 2}), repository.ErrLinkNotFound, fakeAck{termed: 1}},
		{"store failure", encodeEvent(t, model.HitEvent{ID: "c", LinkID: 3}), errors.New("store down"), fakeAck{naked: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockLinkRepository{
				recordHitFn: func(context.Context, *model.LinkHit, bool) error { return tt.recordErr },
			}
			c := NewHitConsumer(nil, NewHitRecorder(repo, nil), time.Second, nil)
			msg := &fakeAck{}
			c.handle(context.Background(), msg, tt.data)
			if *msg != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, *msg)
			}
		})
	}
}
