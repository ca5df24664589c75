package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pslib/urlshortener/internal/app/repository"
)

// OwnerService lists the subjects that own links. Admin only.
type OwnerService interface {
	ListOwners(ctx context.Context, actor Actor, query ListOwnersQuery) (*OwnerPage, error)
}

// ListOwnersQuery filters and pages an owner listing.
type ListOwnersQuery struct {
	Page     int
	PageSize int
	Sort     repository.OwnerSortKey
	Search   string
}

type OwnerPage struct {
	Items    []repository.OwnerSummary
	Total    int64
	Page     int
	PageSize int
}

type ownerService struct {
	owners          repository.OwnerRepository
	pageSizes       []int
	defaultPageSize int
}

// NewOwnerService returns an OwnerService. Page sizes follow the link
// listing: an unsupported size falls back to the default.
func NewOwnerService(owners repository.OwnerRepository, pageSizes []int, defaultPageSize int) OwnerService {
	s := &ownerService{owners: owners, pageSizes: pageSizes, defaultPageSize: defaultPageSize}
	if len(s.pageSizes) == 0 {
		s.pageSizes = []int{10, 20, 50, 100}
	}
	if !slices.Contains(s.pageSizes, s.defaultPageSize) {
		s.defaultPageSize = s.pageSizes[0]
		if slices.Contains(s.pageSizes, 20) {
			s.defaultPageSize = 20
		}
	}
	return s
}

func (s *ownerService) ListOwners(ctx context.Context, actor Actor, query ListOwnersQuery) (*OwnerPage, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}

	page := max(query.Page, 1)
	pageSize := query.PageSize
	if !slices.Contains(s.pageSizes, pageSize) {
		pageSize = s.defaultPageSize
	}

	items, total, err := s.owners.List(ctx, repository.OwnerFilter{
		Search: strings.TrimSpace(query.Search),
		Sort:   query.Sort,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return &OwnerPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}
