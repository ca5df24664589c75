package service

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	metrics "github.com/pslib/urlshortener/internal/infra/prometheus"
	"go.uber.org/zap"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	defaultCodeLength      = 6
	defaultMaxCodeAttempts = 1000
	defaultExpectedCodes   = 1_000_000
	defaultBloomFPRate     = 0.01
)

type availabilityChecker interface {
	CheckAvailable(ctx context.Context, domain *string, code string, excludeID int64) (bool, error)
}

// CodeGeneratorConfig tunes code generation. Zero values pick defaults.
type CodeGeneratorConfig struct {
	Length        int
	MaxAttempts   int
	ExpectedCodes uint
	FalsePositive float64
}

// CodeGenerator draws random codes until one is free in the requested domain.
//
// A bloom filter of codes known to be taken lets it skip most collisions
// without a store round-trip. The filter only ever causes a redraw; the
// uniqueness guard has the final word on availability.
type CodeGenerator struct {
	guard       availabilityChecker
	logger      *zap.Logger
	length      int
	maxAttempts int

	mu    sync.Mutex
	known *bloom.BloomFilter

	intn func(n int) int
}

// NewCodeGenerator returns a generator that checks candidates against guard.
func NewCodeGenerator(guard availabilityChecker, cfg CodeGeneratorConfig, logger *zap.Logger) *CodeGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Length <= 0 {
		cfg.Length = defaultCodeLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxCodeAttempts
	}
	if cfg.ExpectedCodes == 0 {
		cfg.ExpectedCodes = defaultExpectedCodes
	}
	if cfg.FalsePositive <= 0 || cfg.FalsePositive >= 1 {
		cfg.FalsePositive = defaultBloomFPRate
	}

	return &CodeGenerator{
		guard:       guard,
		logger:      logger,
		length:      cfg.Length,
		maxAttempts: cfg.MaxAttempts,
		known:       bloom.NewWithEstimates(cfg.ExpectedCodes, cfg.FalsePositive),
		intn:        rand.IntN,
	}
}

// Generate returns a code that was free in domain at the time of the check.
// Callers must still handle a lost race at insert time.
func (g *CodeGenerator) Generate(ctx context.Context, domain *string) (string, error) {
	scope := NormalizeDomain(domain)
	key := model.DomainKey(scope)

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := g.draw()
		if g.probablyTaken(key, candidate) {
			continue
		}

		available, err := g.guard.CheckAvailable(ctx, scope, candidate, 0)
		if err != nil {
			return "", err
		}
		if available {
			metrics.CodeGenerationAttempts.Observe(float64(attempt))
			return candidate, nil
		}
		g.Remember(key, candidate)
	}

	metrics.CodeSpaceExhaustedTotal.Inc()
	g.logger.Error("code generator exhausted its attempts",
		zap.String("domain", key),
		zap.Int("length", g.length),
		zap.Int("max_attempts", g.maxAttempts),
	)
	return "", ErrCodeSpaceExhausted
}

// Remember marks (domainKey, code) as taken.
func (g *CodeGenerator) Remember(domainKey, code string) {
	g.mu.Lock()
	g.known.AddString(bloomKey(domainKey, code))
	g.mu.Unlock()
}

// Seed loads every live (domain, code) pair into the filter.
func (g *CodeGenerator) Seed(ctx context.Context, links repository.LinkRepository) (int, error) {
	count := 0
	err := links.ForEachLiveKey(ctx, func(domainKey, code string) {
		g.Remember(domainKey, code)
		count++
	})
	return count, err
}

func (g *CodeGenerator) probablyTaken(domainKey, code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known.TestString(bloomKey(domainKey, code))
}

func (g *CodeGenerator) draw() string {
	buf := make([]byte, g.length)
	for i := range buf {
		buf[i] = codeAlphabet[g.intn(len(codeAlphabet))]
	}
	return string(buf)
}

func bloomKey(domainKey, code string) string {
	return domainKey + "\x00" + code
}
