package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"github.com/pslib/urlshortener/internal/app/repository"
	"go.uber.org/zap"
)

// Actor is the authenticated subject performing a management operation.
type Actor struct {
	Subject     string
	IsAdmin     bool
	DisplayName string
	Email       string
}

// LinkService defines behaviour-level operations on links.
type LinkService interface {
	CreateLink(ctx context.Context, actor Actor, input CreateLinkInput) (*model.Link, error)
	GetLink(ctx context.Context, actor Actor, id int64) (*model.Link, error)
	ListLinks(ctx context.Context, actor Actor, query ListLinksQuery) (*LinkPage, error)
	UpdateLink(ctx context.Context, actor Actor, id int64, input UpdateLinkInput) (*model.Link, error)
	DeleteLink(ctx context.Context, actor Actor, id int64) (*model.Link, error)
	RestoreLink(ctx context.Context, actor Actor, id int64) (*model.Link, error)
	PurgeLink(ctx context.Context, actor Actor, id int64) error
	ListHits(ctx context.Context, actor Actor, id int64, page, pageSize int) (*HitPage, error)
}

// CreateLinkInput captures data required to create a link. A blank Code asks
// for a generated one. IsEnabled defaults to true.
type CreateLinkInput struct {
	Domain        *string
	Code          string
	TargetURL     string
	IsEnabled     *bool
	ActiveFromUTC *time.Time
	ActiveToUTC   *time.Time
	Title         *string
	Note          *string
}

// UpdateLinkInput replaces the editable fields of a link. RowVersion must
// match the stored version. Domain is only honoured for admins.
type UpdateLinkInput struct {
	Domain        *string
	Code          string
	TargetURL     string
	IsEnabled     bool
	ActiveFromUTC *time.Time
	ActiveToUTC   *time.Time
	Title         *string
	Note          *string
	RowVersion    int64
}

// ListLinksQuery filters and pages a listing. Owner (exact subject) and
// OwnerName (display name substring) are only honoured for admins.
type ListLinksQuery struct {
	Page           int
	PageSize       int
	Sort           repository.SortKey
	Search         string
	Code           string
	Domain         string
	Target         string
	Owner          string
	OwnerName      string
	Enabled        *bool
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	IncludeDeleted bool
	DeletedOnly    bool
}

type LinkPage struct {
	Items    []model.Link
	Total    int64
	Page     int
	PageSize int
}

type HitPage struct {
	Items    []model.LinkHit
	Total    int64
	Page     int
	PageSize int
}

const (
	minHitPageSize     = 5
	maxHitPageSize     = 200
	defaultHitPageSize = 20
)

// LinkServiceDeps groups the collaborators of the link service.
type LinkServiceDeps struct {
	Links     repository.LinkRepository
	Owners    repository.OwnerRepository
	Reserved  repository.ReservedCodeRepository
	Guard     *UniquenessGuard
	Generator *CodeGenerator
	Cache     ResolveCache
	Logger    *zap.Logger

	CreateRetries   int
	PageSizes       []int
	DefaultPageSize int
	Now             func() time.Time
}

type linkService struct {
	links     repository.LinkRepository
	owners    repository.OwnerRepository
	reserved  repository.ReservedCodeRepository
	guard     *UniquenessGuard
	generator *CodeGenerator
	cache     ResolveCache
	logger    *zap.Logger

	createRetries   int
	pageSizes       []int
	defaultPageSize int
	now             func() time.Time
}

// NewLinkService returns a service implementation backed by the given repositories.
func NewLinkService(deps LinkServiceDeps) LinkService {
	s := &linkService{
		links:           deps.Links,
		owners:          deps.Owners,
		reserved:        deps.Reserved,
		guard:           deps.Guard,
		generator:       deps.Generator,
		cache:           deps.Cache,
		logger:          deps.Logger,
		createRetries:   deps.CreateRetries,
		pageSizes:       deps.PageSizes,
		defaultPageSize: deps.DefaultPageSize,
		now:             deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.guard == nil {
		s.guard = NewUniquenessGuard(s.links)
	}
	if s.generator == nil {
		s.generator = NewCodeGenerator(s.guard, CodeGeneratorConfig{}, s.logger)
	}
	if s.createRetries <= 0 {
		s.createRetries = 3
	}
	if len(s.pageSizes) == 0 {
		s.pageSizes = []int{10, 20, 50, 100}
	}
	if !slices.Contains(s.pageSizes, s.defaultPageSize) {
		s.defaultPageSize = s.pageSizes[0]
		if slices.Contains(s.pageSizes, 20) {
			s.defaultPageSize = 20
		}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *linkService) CreateLink(ctx context.Context, actor Actor, input CreateLinkInput) (*model.Link, error) {
	if actor.Subject == "" {
		return nil, ErrForbidden
	}

	link, err := s.buildLink(actor, input)
	if err != nil {
		return nil, err
	}

	generated := link.Code == ""
	if !generated {
		if err := validateCode(link.Code, !actor.IsAdmin); err != nil {
			return nil, err
		}
		if !actor.IsAdmin {
			if err := s.checkReserved(ctx, link.Code); err != nil {
				return nil, err
			}
		}
	}

	if err := s.ensureOwner(ctx, actor); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if generated {
			code, err := s.generator.Generate(ctx, link.Domain)
			if err != nil {
				return nil, fmt.Errorf("create link: %w", err)
			}
			link.Code = code
		} else {
			available, err := s.guard.CheckAvailable(ctx, link.Domain, link.Code, 0)
			if err != nil {
				return nil, fmt.Errorf("create link: %w", err)
			}
			if !available {
				return nil, ErrAlreadyExists
			}
		}

		link.ID = 0
		err := s.links.Create(ctx, link)
		switch {
		case err == nil:
			s.afterWrite(ctx, link)
			return link, nil
		case errors.Is(err, repository.ErrCodeTaken) && generated && attempt < s.createRetries:
			s.generator.Remember(model.DomainKey(link.Domain), link.Code)
			s.logger.Warn("generated code lost an insert race, drawing again",
				zap.String("code", link.Code),
				zap.String("domain", model.DomainKey(link.Domain)),
				zap.Int("attempt", attempt+1),
			)
		case errors.Is(err, repository.ErrCodeTaken):
			return nil, ErrAlreadyExists
		default:
			s.logger.Error("failed to insert link",
				zap.String("code", link.Code),
				zap.String("domain", model.DomainKey(link.Domain)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("create link: %w", err)
		}
	}
}

func (s *linkService) buildLink(actor Actor, input CreateLinkInput) (*model.Link, error) {
	domain := NormalizeDomain(input.Domain)
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	target, err := validateTargetURL(input.TargetURL)
	if err != nil {
		return nil, err
	}
	from, to, err := normalizeWindow(input.ActiveFromUTC, input.ActiveToUTC)
	if err != nil {
		return nil, err
	}
	title := normalizeText(input.Title)
	if err := validateOptionalText("title", title, model.MaxTitleLength); err != nil {
		return nil, err
	}
	note := normalizeText(input.Note)
	if err := validateOptionalText("note", note, model.MaxNoteLength); err != nil {
		return nil, err
	}

	enabled := true
	if input.IsEnabled != nil {
		enabled = *input.IsEnabled
	}

	return &model.Link{
		Domain:        domain,
		Code:          strings.TrimSpace(input.Code),
		TargetURL:     target,
		IsEnabled:     enabled,
		ActiveFromUTC: from,
		ActiveToUTC:   to,
		OwnerSub:      actor.Subject,
		Title:         title,
		Note:          note,
		CreatedAtUTC:  s.now(),
		RowVersion:    1,
	}, nil
}

func (s *linkService) GetLink(ctx context.Context, actor Actor, id int64) (*model.Link, error) {
	return s.loadOwned(ctx, actor, id)
}

func (s *linkService) ListLinks(ctx context.Context, actor Actor, query ListLinksQuery) (*LinkPage, error) {
	page := max(query.Page, 1)
	pageSize := query.PageSize
	if !slices.Contains(s.pageSizes, pageSize) {
		pageSize = s.defaultPageSize
	}

	filter := repository.LinkFilter{
		Search:         strings.TrimSpace(query.Search),
		Code:           strings.TrimSpace(query.Code),
		Domain:         strings.TrimSpace(query.Domain),
		Target:         strings.TrimSpace(query.Target),
		Enabled:        query.Enabled,
		CreatedFrom:    query.CreatedFrom,
		CreatedTo:      query.CreatedTo,
		IncludeDeleted: query.IncludeDeleted,
		DeletedOnly:    query.DeletedOnly,
		Sort:           query.Sort,
		Limit:          pageSize,
		Offset:         (page - 1) * pageSize,
	}
	if actor.IsAdmin {
		filter.OwnerSub = strings.TrimSpace(query.Owner)
		filter.OwnerName = strings.TrimSpace(query.OwnerName)
	} else {
		filter.OwnerSub = actor.Subject
	}

	items, total, err := s.links.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return &LinkPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *linkService) UpdateLink(ctx context.Context, actor Actor, id int64, input UpdateLinkInput) (*model.Link, error) {
	link, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if input.RowVersion != link.RowVersion {
		return nil, ErrConcurrentUpdate
	}

	domain := link.Domain
	if actor.IsAdmin {
		domain = NormalizeDomain(input.Domain)
		if err := validateDomain(domain); err != nil {
			return nil, err
		}
	}
	target, err := validateTargetURL(input.TargetURL)
	if err != nil {
		return nil, err
	}
	from, to, err := normalizeWindow(input.ActiveFromUTC, input.ActiveToUTC)
	if err != nil {
		return nil, err
	}
	title := normalizeText(input.Title)
	if err := validateOptionalText("title", title, model.MaxTitleLength); err != nil {
		return nil, err
	}
	note := normalizeText(input.Note)
	if err := validateOptionalText("note", note, model.MaxNoteLength); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(input.Code)
	if code == "" {
		if code, err = s.generator.Generate(ctx, domain); err != nil {
			return nil, fmt.Errorf("update link: %w", err)
		}
	} else {
		changed := code != link.Code
		if err := validateCode(code, !actor.IsAdmin && changed); err != nil {
			return nil, err
		}
		if !actor.IsAdmin && changed {
			if err := s.checkReserved(ctx, code); err != nil {
				return nil, err
			}
		}
	}

	// Soft-deleted rows sit outside the uniqueness scope until restored.
	if !link.IsDeleted() {
		available, err := s.guard.CheckAvailable(ctx, domain, code, link.ID)
		if err != nil {
			return nil, fmt.Errorf("update link: %w", err)
		}
		if !available {
			return nil, ErrAlreadyExists
		}
	}

	oldCode := link.Code
	link.Domain = domain
	link.Code = code
	link.TargetURL = target
	link.IsEnabled = input.IsEnabled
	link.ActiveFromUTC = from
	link.ActiveToUTC = to
	link.Title = title
	link.Note = note

	if err := s.links.Update(ctx, link, input.RowVersion); err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleVersion):
			return nil, ErrConcurrentUpdate
		case errors.Is(err, repository.ErrLinkNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrCodeTaken):
			return nil, ErrAlreadyExists
		}
		s.logger.Error("failed to update link", zap.Int64("link_id", id), zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("update link: %w", err)
	}

	s.afterWrite(ctx, link, oldCode)
	return link, nil
}

// DeleteLink soft-deletes a link. Deleting an already deleted link changes nothing.
func (s *linkService) DeleteLink(ctx context.Context, actor Actor, id int64) (*model.Link, error) {
	link, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if link.IsDeleted() {
		return link, nil
	}

	changed, err := s.links.SoftDelete(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete link: %w", err)
	}
	if changed {
		s.invalidate(ctx, link.Code)
	}
	return s.reload(ctx, id)
}

// RestoreLink clears the soft-delete mark after checking that the (domain,
// code) pair is still free. Restoring a live link changes nothing.
func (s *linkService) RestoreLink(ctx context.Context, actor Actor, id int64) (*model.Link, error) {
	link, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !link.IsDeleted() {
		return link, nil
	}

	available, err := s.guard.CheckAvailable(ctx, link.Domain, link.Code, link.ID)
	if err != nil {
		return nil, fmt.Errorf("restore link: %w", err)
	}
	if !available {
		return nil, ErrAlreadyExists
	}

	changed, err := s.links.Restore(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCodeTaken):
			return nil, ErrAlreadyExists
		case errors.Is(err, repository.ErrLinkNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("restore link: %w", err)
	}
	if changed {
		s.afterWrite(ctx, link)
	}
	return s.reload(ctx, id)
}

// PurgeLink permanently removes a link and its hits. Admin only.
func (s *linkService) PurgeLink(ctx context.Context, actor Actor, id int64) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	link, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.links.HardDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("purge link: %w", err)
	}
	s.invalidate(ctx, link.Code)
	s.logger.Info("link purged", zap.Int64("link_id", id), zap.String("code", link.Code), zap.String("actor", actor.Subject))
	return nil
}

func (s *linkService) ListHits(ctx context.Context, actor Actor, id int64, page, pageSize int) (*HitPage, error) {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return nil, err
	}

	page = max(page, 1)
	if pageSize <= 0 {
		pageSize = defaultHitPageSize
	}
	pageSize = min(max(pageSize, minHitPageSize), maxHitPageSize)

	hits, total, err := s.links.ListHits(ctx, id, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list hits: %w", err)
	}
	return &HitPage{Items: hits, Total: total, Page: page, PageSize: pageSize}, nil
}

// loadOwned hides links the actor does not own behind ErrNotFound.
func (s *linkService) loadOwned(ctx context.Context, actor Actor, id int64) (*model.Link, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load link: %w", err)
	}
	if !actor.IsAdmin && link.OwnerSub != actor.Subject {
		return nil, ErrNotFound
	}
	return link, nil
}

func (s *linkService) reload(ctx context.Context, id int64) (*model.Link, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load link: %w", err)
	}
	return link, nil
}

func (s *linkService) checkReserved(ctx context.Context, code string) error {
	if s.reserved == nil {
		return nil
	}
	reserved, err := s.reserved.IsReserved(ctx, code)
	if err != nil {
		return fmt.Errorf("check reserved code: %w", err)
	}
	if reserved {
		return ErrReservedCode
	}
	return nil
}

func (s *linkService) ensureOwner(ctx context.Context, actor Actor) error {
	if s.owners == nil {
		return nil
	}
	owner := &model.Owner{
		Sub:          actor.Subject,
		DisplayName:  normalizeText(&actor.DisplayName),
		Email:        normalizeText(&actor.Email),
		UpdatedAtUTC: s.now(),
	}
	if err := s.owners.Ensure(ctx, owner); err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}
	return nil
}

// afterWrite keeps the generator filter and the resolve cache in step with a
// link that now holds its code. extraCodes are previous codes to invalidate.
func (s *linkService) afterWrite(ctx context.Context, link *model.Link, extraCodes ...string) {
	s.generator.Remember(model.DomainKey(link.Domain), link.Code)
	s.invalidate(ctx, append(extraCodes, link.Code)...)
}

func (s *linkService) invalidate(ctx context.Context, codes ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, codes...); err != nil {
		s.logger.Warn("failed to invalidate resolve cache", zap.Strings("codes", codes), zap.Error(err))
	}
}
