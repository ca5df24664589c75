package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
)

// Property: N hits with K bots add N-K clicks and N hit rows.
func TestHitRecorder_ClickAndBotAccounting(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	link, err := s.service.CreateLink(ctx, alice, CreateLinkInput{Code: "count", TargetURL: "https://e.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	agents := []string{
		"Mozilla/5.0 (Windows NT 10.0)",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"Mozilla/5.0 (iPhone)",
		"curl/8.4.0",
		"",
		"Slackbot-LinkExpanding 1.0",
	}
	const bots = 3
	detector := NewBotDetector(nil)

	for _, ua := range agents {
		in := HitInput{LinkID: link.ID, UserAgent: ua, RemoteIP: "203.0.113.7", IsBot: detector.IsBot(ua)}
		if err := s.recorder.Record(ctx, in); err != nil {
			t.Fatalf("record %q: %v", ua, err)
		}
	}

	got, err := s.links.GetByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Clicks != int64(len(agents)-bots) {
		t.Fatalf("expected %d clicks, got %d", len(agents)-bots, got.Clicks)
	}
	_, total, err := s.links.ListHits(ctx, link.ID, 100, 0)
	if err != nil {
		t.Fatalf("ListHits: %v", err)
	}
	if total != int64(len(agents)) {
		t.Fatalf("expected %d hit rows, got %d", len(agents), total)
	}
}

func TestHitRecorder_ShapesHitRow(t *testing.T) {
	var stored *model.LinkHit
	var counted bool
	repo := &mockLinkRepository{
		recordHitFn: func(_ context.Context, hit *model.LinkHit, countClick bool) error {
			stored, counted = hit, countClick
			return nil
		},
	}
	r := NewHitRecorder(repo, nil)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))

	err := r.Record(context.Background(), HitInput{
		LinkID:    5,
		Referer:   strings.Repeat("r", model.MaxRefererLength+10),
		UserAgent: strings.Repeat("é", model.MaxUserAgentLength+1),
		RemoteIP:  "198.51.100.1",
		At:        at,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if !counted {
		t.Fatal("a human hit must count as a click")
	}
	if !stored.AtUTC.Equal(at) || stored.AtUTC.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", stored.AtUTC)
	}
	if len(*stored.Referer) != model.MaxRefererLength {
		t.Fatalf("referer not truncated: %d", len(*stored.Referer))
	}
	if n := len([]rune(*stored.UserAgent)); n != model.MaxUserAgentLength {
		t.Fatalf("user agent not truncated on rune boundary: %d", n)
	}
	want := sha256.Sum256([]byte("198.51.100.1"))
	if !bytes.Equal(stored.RemoteIPHash, want[:]) {
		t.Fatal("remote IP must be stored as its SHA-256")
	}
}

func TestHitRecorder_BlankFieldsAreNil(t *testing.T) {
	var stored *model.LinkHit
	repo := &mockLinkRepository{
		recordHitFn: func(_ context.Context, hit *model.LinkHit, _ bool) error {
			stored = hit
			return nil
		},
	}

	if err := NewHitRecorder(repo, nil).Record(context.Background(), HitInput{LinkID: 1, Referer: "  "}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if stored.Referer != nil || stored.UserAgent != nil || stored.RemoteIPHash != nil {
		t.Fatalf("expected nil optional fields, got %+v", stored)
	}
	if stored.AtUTC.IsZero() {
		t.Fatal("missing timestamp must default to now")
	}
}

func TestHitRecorder_UnknownLink(t *testing.T) {
	repo := &mockLinkRepository{
		recordHitFn: func(context.Context, *model.LinkHit, bool) error { return repository.ErrLinkNotFound },
	}

	err := NewHitRecorder(repo, nil).Record(context.Background(), HitInput{LinkID: 404})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHitRecorder_PreflaggedBotIsNotCounted(t *testing.T) {
	var counted = true
	repo := &mockLinkRepository{
		recordHitFn: func(_ context.Context, _ *model.LinkHit, countClick bool) error {
			counted = countClick
			return nil
		},
	}

	if err := NewHitRecorder(repo, nil).Record(context.Background(), HitInput{LinkID: 1, UserAgent: "Mozilla/5.0", IsBot: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if counted {
		t.Fatal("hits flagged as bots must not count as clicks")
	}
}

func TestHitRecorder_BotFlagIsAuthoritative(t *testing.T) {
	var stored *model.LinkHit
	var counted bool
	repo := &mockLinkRepository{
		recordHitFn: func(_ context.Context, hit *model.LinkHit, countClick bool) error {
			stored, counted = hit, countClick
			return nil
		},
	}

	// A caller with a custom signature table decided this agent is human.
	in := HitInput{LinkID: 1, UserAgent: "Googlebot/2.1", IsBot: false}
	if err := NewHitRecorder(repo, nil).Record(context.Background(), in); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !counted || stored.IsBot {
		t.Fatalf("explicit human flag must be kept, counted=%v is_bot=%v", counted, stored.IsBot)
	}
}

func TestHitRecorder_DuplicateEventIsStoredOnce(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	link, err := s.service.CreateLink(ctx, alice, CreateLinkInput{Code: "redeliver", TargetURL: "https://e.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	in := HitInput{EventID: "6f1c1c57-93a5-4c4e-9d0c-0f3c0a9e3b11", LinkID: link.ID, UserAgent: "Mozilla/5.0"}
	for i := 0; i < 3; i++ {
		if err := s.recorder.Record(ctx, in); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, _ := s.links.GetByID(ctx, link.ID)
	if got.Clicks != 1 {
		t.Fatalf("expected 1 click after redelivery, got %d", got.Clicks)
	}
	if _, total, _ := s.links.ListHits(ctx, link.ID, 10, 0); total != 1 {
		t.Fatalf("expected 1 hit row after redelivery, got %d", total)
	}

	// Hits without an event id are never deduplicated.
	for i := 0; i < 2; i++ {
		_ = s.recorder.Record(ctx, HitInput{LinkID: link.ID})
	}
	if _, total, _ := s.links.ListHits(ctx, link.ID, 10, 0); total != 3 {
		t.Fatalf("expected 3 hit rows, got %d", total)
	}
}

func TestBotDetector(t *testing.T) {
	d := NewBotDetector([]string{" PreviewFetcher ", ""})

	if !d.IsBot("Mozilla/5.0 previewfetcher/1.2") {
		t.Fatal("configured signature must match case-insensitively")
	}
	if d.IsBot("Googlebot/2.1") {
		t.Fatal("a custom table replaces the defaults")
	}
	if d.IsBot("") {
		t.Fatal("empty user agent is not a bot")
	}

	def := NewBotDetector(nil)
	for _, ua := range []string{"Googlebot/2.1", "Wget/1.21", "python-requests/2.31", "facebookexternalhit/1.1"} {
		if !def.IsBot(ua) {
			t.Errorf("expected %q to be a bot", ua)
		}
	}
	if def.IsBot("Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Safari/605.1.15") {
		t.Error("browser flagged as bot")
	}
}

func TestAsyncHitSink_RecordsInBackground(t *testing.T) {
	recorded := make(chan int64, 4)
	repo := &mockLinkRepository{
		recordHitFn: func(_ context.Context, hit *model.LinkHit, _ bool) error {
			recorded <- hit.LinkID
			return nil
		},
	}
	sink := NewAsyncHitSink(NewHitRecorder(repo, nil), time.Second, 4, nil)

	sink.Submit(HitInput{LinkID: 1})
	sink.Submit(HitInput{LinkID: 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(recorded) != 2 {
		t.Fatalf("expected 2 recorded hits, got %d", len(recorded))
	}
}

func TestAsyncHitSink_DropsWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	calls := make(chan struct{}, 8)
	repo := &mockLinkRepository{
		recordHitFn: func(context.Context, *model.LinkHit, bool) error {
			calls <- struct{}{}
			<-release
			return errors.New("store down")
		},
	}
	sink := NewAsyncHitSink(NewHitRecorder(repo, nil), time.Second, 1, nil)

	sink.Submit(HitInput{LinkID: 1})
	<-calls
	sink.Submit(HitInput{LinkID: 2}) // dropped, the only slot is busy
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("expected the second hit to be dropped, got %d extra writes", len(calls))
	}
}
