package service

import (
	"context"
	"errors"
	"testing"

	"github.com/pslib/urlshortener/internal/app/repository"
)

func TestOwnerService_ListOwners(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	owners := NewOwnerService(repository.NewOwnerRepository(s.db), nil, 0)

	for _, in := range []struct {
		actor Actor
		code  string
	}{{alice, "a-one"}, {alice, "a-two"}, {bob, "b-one"}} {
		if _, err := s.service.CreateLink(ctx, in.actor, CreateLinkInput{Code: in.code, TargetURL: "https://e.com"}); err != nil {
			t.Fatalf("create %s: %v", in.code, err)
		}
	}

	if _, err := owners.ListOwners(ctx, alice, ListOwnersQuery{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admins, got %v", err)
	}

	page, err := owners.ListOwners(ctx, admin, ListOwnersQuery{PageSize: 7})
	if err != nil {
		t.Fatalf("ListOwners: %v", err)
	}
	if page.PageSize != 20 || page.Page != 1 {
		t.Fatalf("unsupported page size must fall back to 20, got page=%d size=%d", page.Page, page.PageSize)
	}
	if page.Total != 2 || page.Items[0].Sub != "alice" || page.Items[0].LiveLinks != 2 {
		t.Fatalf("unexpected owner page %+v", page)
	}

	page, err = owners.ListOwners(ctx, admin, ListOwnersQuery{Search: "  ALI ", PageSize: 10})
	if err != nil {
		t.Fatalf("ListOwners search: %v", err)
	}
	if page.Total != 1 || page.Items[0].DisplayName == nil || *page.Items[0].DisplayName != "Alice" {
		t.Fatalf("search by display name failed: %+v", page)
	}
}

func TestOwnerService_StoreError(t *testing.T) {
	boom := errors.New("connection reset")
	owners := NewOwnerService(failingOwners{err: boom}, []int{25}, 25)

	if _, err := owners.ListOwners(context.Background(), admin, ListOwnersQuery{}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

type failingOwners struct {
	repository.OwnerRepository
	err error
}

func (f failingOwners) List(context.Context, repository.OwnerFilter) ([]repository.OwnerSummary, int64, error) {
	return nil, 0, f.err
}
