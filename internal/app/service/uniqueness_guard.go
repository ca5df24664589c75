package service

import (
	"context"
	"fmt"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
)

// UniquenessGuard answers whether a (domain, code) pair is free among live
// links. It is a pre-check only: the store's filtered unique index decides
// races, and the repository reports those as repository.ErrCodeTaken.
type UniquenessGuard struct {
	links repository.LinkRepository
}

// NewUniquenessGuard returns a guard backed by the link repository.
func NewUniquenessGuard(links repository.LinkRepository) *UniquenessGuard {
	return &UniquenessGuard{links: links}
}

// CheckAvailable normalizes domain and reports whether no live link other
// than excludeID uses code in that scope. Codes compare case-sensitively.
func (g *UniquenessGuard) CheckAvailable(ctx context.Context, domain *string, code string, excludeID int64) (bool, error) {
	scope := model.DomainKey(NormalizeDomain(domain))
	inUse, err := g.links.CodeInUse(ctx, scope, code, excludeID)
	if err != nil {
		return false, fmt.Errorf("check code availability: %w", err)
	}
	return !inUse, nil
}
