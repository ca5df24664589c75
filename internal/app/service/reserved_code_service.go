package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
)

// ReservedCodeService manages the codes self-service users may not claim.
// Every operation is admin only.
type ReservedCodeService interface {
	ListReserved(ctx context.Context, actor Actor) ([]model.ReservedCode, error)
	Reserve(ctx context.Context, actor Actor, code string, reason *string) (*model.ReservedCode, error)
	Release(ctx context.Context, actor Actor, code string) error
}

type reservedCodeService struct {
	repo repository.ReservedCodeRepository
	now  func() time.Time
}

// NewReservedCodeService returns a service backed by the given repository.
func NewReservedCodeService(repo repository.ReservedCodeRepository) ReservedCodeService {
	return &reservedCodeService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *reservedCodeService) ListReserved(ctx context.Context, actor Actor) ([]model.ReservedCode, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	codes, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reserved codes: %w", err)
	}
	return codes, nil
}

func (s *reservedCodeService) Reserve(ctx context.Context, actor Actor, code string, reason *string) (*model.ReservedCode, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("code", "is required")
	}
	if len(code) > model.MaxReservedCodeLength || !codePattern.MatchString(code) {
		return nil, invalid("code", "must be 1-32 letters, digits, '-' or '_'")
	}
	reason = normalizeText(reason)
	if err := validateOptionalText("reason", reason, 256); err != nil {
		return nil, err
	}

	reserved := &model.ReservedCode{Code: code, Reason: reason, CreatedAtUTC: s.now()}
	if err := s.repo.Create(ctx, reserved); err != nil {
		if errors.Is(err, repository.ErrReservedCodeExists) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("reserve code: %w", err)
	}
	return reserved, nil
}

func (s *reservedCodeService) Release(ctx context.Context, actor Actor, code string) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, strings.TrimSpace(code)); err != nil {
		if errors.Is(err, repository.ErrReservedCodeNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("release code: %w", err)
	}
	return nil
}
