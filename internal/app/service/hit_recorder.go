package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

// HitInput describes one redirect served for a link. IsBot is decided by the
// caller and stored as given. EventID, when set, makes recording idempotent.
type HitInput struct {
	EventID   string
	LinkID    int64
	Referer   string
	UserAgent string
	RemoteIP  string
	IsBot     bool
	At        time.Time
}

// HitSink accepts hits without making the caller wait for them to be stored.
type HitSink interface {
	Submit(in HitInput)
}

// HitRecorder persists hits: one hit row plus the link's counters, atomically.
type HitRecorder struct {
	links  repository.LinkRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewHitRecorder returns a recorder.
func NewHitRecorder(links repository.LinkRepository, logger *zap.Logger) *HitRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HitRecorder{
		links:  links,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record stores the hit. Bots get a hit row and a last-access stamp but do
// not count as clicks. An unknown link yields ErrNotFound and writes nothing.
// Recording an EventID that is already stored is a no-op.
func (r *HitRecorder) Record(ctx context.Context, in HitInput) error {
	at := in.At
	if at.IsZero() {
		at = r.now()
	}
	isBot := in.IsBot

	hit := &model.LinkHit{
		EventID:      optional(in.EventID),
		LinkID:       in.LinkID,
		AtUTC:        at.UTC(),
		Referer:      truncateOptional(in.Referer, model.MaxRefererLength),
		UserAgent:    truncateOptional(in.UserAgent, model.MaxUserAgentLength),
		RemoteIPHash: HashIP(in.RemoteIP),
		IsBot:        isBot,
	}

	if err := r.links.RecordHit(ctx, hit, !isBot); err != nil {
		metrics.HitsRecordedTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("record hit: %w", err)
	}

	if isBot {
		metrics.HitsRecordedTotal.WithLabelValues("bot").Inc()
	} else {
		metrics.HitsRecordedTotal.WithLabelValues("human").Inc()
	}
	return nil
}

// HashIP returns the SHA-256 of the address, or nil when it is unknown.
func HashIP(ip string) []byte {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(ip))
	return sum[:]
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncateOptional cuts s to at most max runes and maps blank to nil.
func truncateOptional(s string, max int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > max {
		runes := []rune(s)
		s = string(runes[:max])
	}
	return &s
}
