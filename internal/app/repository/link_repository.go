package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pslib/urlshortener/internal/app/model"
	"gorm.io/gorm"
)

// LinkRepository defines the data access contract for short links.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByID(ctx context.Context, id int64) (*model.Link, error)
	FindCandidates(ctx context.Context, code, host, origin string) ([]model.Link, error)
	CodeInUse(ctx context.Context, domainKey, code string, excludeID int64) (bool, error)
	Update(ctx context.Context, link *model.Link, expectedVersion int64) error
	SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error)
	Restore(ctx context.Context, id int64) (bool, error)
	HardDelete(ctx context.Context, id int64) error
	PurgeDeleted(ctx context.Context, before time.Time) ([]model.Link, error)
	RecordHit(ctx context.Context, hit *model.LinkHit, countClick bool) error
	List(ctx context.Context, filter LinkFilter) ([]model.Link, int64, error)
	ListHits(ctx context.Context, linkID int64, limit, offset int) ([]model.LinkHit, int64, error)
	ForEachLiveKey(ctx context.Context, fn func(domainKey, code string)) error
}

// LinkFilter narrows a listing. Zero values mean "no constraint".
// OwnerSub matches exactly. OwnerName, Code, Domain, Target and Search are
// case-insensitive substring matches; Search spans the code, domain, target,
// title, note and owner display name.
type LinkFilter struct {
	OwnerSub       string
	OwnerName      string
	Search         string
	Code           string
	Domain         string
	Target         string
	Enabled        *bool
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	IncludeDeleted bool
	DeletedOnly    bool
	Sort           SortKey
	Limit          int
	Offset         int
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	link.DomainKey = model.DomainKey(link.Domain)
	if link.RowVersion == 0 {
		link.RowVersion = 1
	}
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id int64) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// FindCandidates returns the enabled, non-deleted links for code that may
// answer a request on host/origin, in precedence order: domain-bound links
// first, then newest first.
func (r *linkRepository) FindCandidates(ctx context.Context, code, host, origin string) ([]model.Link, error) {
	var result []model.Link
	err := r.db.WithContext(ctx).
		Where("code = ? AND deleted_at_utc IS NULL AND is_enabled = ?", code, true).
		Where("(domain IS NULL OR LOWER(domain) = ? OR LOWER(domain) = ?)", host, origin).
		Order("CASE WHEN domain IS NULL THEN 1 ELSE 0 END").
		Order("created_at_utc DESC").
		Order("id DESC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) CodeInUse(ctx context.Context, domainKey, code string, excludeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("domain_key = ? AND code = ? AND deleted_at_utc IS NULL AND id <> ?", domainKey, code, excludeID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Update writes the editable columns only if the stored row version still
// equals expectedVersion. On success link.RowVersion holds the new version.
func (r *linkRepository) Update(ctx context.Context, link *model.Link, expectedVersion int64) error {
	link.DomainKey = model.DomainKey(link.Domain)

	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND row_version = ?", link.ID, expectedVersion).
		Updates(map[string]interface{}{
			"domain":          link.Domain,
			"domain_key":      link.DomainKey,
			"code":            link.Code,
			"target_url":      link.TargetURL,
			"is_enabled":      link.IsEnabled,
			"active_from_utc": link.ActiveFromUTC,
			"active_to_utc":   link.ActiveToUTC,
			"title":           link.Title,
			"note":            link.Note,
			"row_version":     gorm.Expr("row_version + 1"),
		})

	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrCodeTaken
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrStale(ctx, link.ID)
	}

	link.RowVersion = expectedVersion + 1
	return nil
}

func (r *linkRepository) missingOrStale(ctx context.Context, id int64) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrLinkNotFound
	}
	return ErrStaleVersion
}

// SoftDelete stamps deleted_at_utc once. The bool reports whether the row changed.
func (r *linkRepository) SoftDelete(ctx context.Context, id int64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND deleted_at_utc IS NULL", id).
		Updates(map[string]interface{}{
			"deleted_at_utc": at,
			"row_version":    gorm.Expr("row_version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

// Restore clears deleted_at_utc. The unique index rejects the restore when a
// live link already holds the same (domain, code).
func (r *linkRepository) Restore(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ? AND deleted_at_utc IS NOT NULL", id).
		Updates(map[string]interface{}{
			"deleted_at_utc": nil,
			"row_version":    gorm.Expr("row_version + 1"),
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, ErrCodeTaken
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

func (r *linkRepository) ensureExists(ctx context.Context, id int64) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// HardDelete removes the link. Its hits go with it through the
// link_hits foreign key.
func (r *linkRepository) HardDelete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// PurgeDeleted permanently removes links soft-deleted before the cutoff,
// together with their hits, and returns what was removed.
func (r *linkRepository) PurgeDeleted(ctx context.Context, before time.Time) ([]model.Link, error) {
	var purged []model.Link
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id", "code", "domain").
			Where("deleted_at_utc IS NOT NULL AND deleted_at_utc < ?", before).
			Find(&purged).Error; err != nil {
			return err
		}
		if len(purged) == 0 {
			return nil
		}

		ids := make([]int64, len(purged))
		for i := range purged {
			ids[i] = purged[i].ID
		}
		return tx.Where("id IN ?", ids).Delete(&model.Link{}).Error
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// RecordHit bumps the link counters and stores the hit row in one transaction.
// A hit whose EventID was already stored is a redelivery: the transaction is
// rolled back and RecordHit reports success.
func (r *linkRepository) RecordHit(ctx context.Context, hit *model.LinkHit, countClick bool) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"last_access_at_utc": hit.AtUTC,
			"row_version":        gorm.Expr("row_version + 1"),
		}
		if countClick {
			updates["clicks"] = gorm.Expr("clicks + 1")
		}

		result := tx.Model(&model.Link{}).Where("id = ?", hit.LinkID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLinkNotFound
		}

		if err := tx.Create(hit).Error; err != nil {
			if hit.EventID != nil && isUniqueViolation(err) {
				return errDuplicateHit
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errDuplicateHit) {
		return nil
	}
	return err
}

func (r *linkRepository) List(ctx context.Context, filter LinkFilter) ([]model.Link, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	scope := linkFilterScope(filter)

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).Model(&model.Link{}).Scopes(scope)
	for _, clause := range filter.Sort.orderClauses() {
		query = query.Order(clause)
	}

	var result []model.Link
	if err := query.Limit(filter.Limit).Offset(filter.Offset).Find(&result).Error; err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}

const joinOwners = "LEFT JOIN owners ON owners.sub = links.owner_sub"

func linkFilterScope(f LinkFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Joins(joinOwners)
		switch {
		case f.DeletedOnly:
			db = db.Where("links.deleted_at_utc IS NOT NULL")
		case !f.IncludeDeleted:
			db = db.Where("links.deleted_at_utc IS NULL")
		}
		if f.OwnerSub != "" {
			db = db.Where("links.owner_sub = ?", f.OwnerSub)
		}
		if strings.TrimSpace(f.OwnerName) != "" {
			db = db.Where("LOWER(owners.display_name) LIKE ? ESCAPE '\\'", containsPattern(f.OwnerName))
		}
		if strings.TrimSpace(f.Code) != "" {
			db = db.Where("LOWER(links.code) LIKE ? ESCAPE '\\'", containsPattern(f.Code))
		}
		if strings.TrimSpace(f.Domain) != "" {
			db = db.Where("LOWER(links.domain) LIKE ? ESCAPE '\\'", containsPattern(f.Domain))
		}
		if strings.TrimSpace(f.Target) != "" {
			db = db.Where("LOWER(links.target_url) LIKE ? ESCAPE '\\'", containsPattern(f.Target))
		}
		if strings.TrimSpace(f.Search) != "" {
			p := containsPattern(f.Search)
			db = db.Where(
				"(LOWER(links.code) LIKE ? ESCAPE '\\' OR LOWER(links.domain) LIKE ? ESCAPE '\\' OR LOWER(links.target_url) LIKE ? ESCAPE '\\'"+
					" OR LOWER(links.title) LIKE ? ESCAPE '\\' OR LOWER(links.note) LIKE ? ESCAPE '\\' OR LOWER(owners.display_name) LIKE ? ESCAPE '\\')",
				p, p, p, p, p, p,
			)
		}
		if f.Enabled != nil {
			db = db.Where("links.is_enabled = ?", *f.Enabled)
		}
		if f.CreatedFrom != nil {
			db = db.Where("links.created_at_utc >= ?", *f.CreatedFrom)
		}
		if f.CreatedTo != nil {
			db = db.Where("links.created_at_utc < ?", *f.CreatedTo)
		}
		return db
	}
}

func (r *linkRepository) ListHits(ctx context.Context, linkID int64, limit, offset int) ([]model.LinkHit, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.LinkHit{}).Where("link_id = ?", linkID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var hits []model.LinkHit
	if err := r.db.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("at_utc DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&hits).Error; err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}

// ForEachLiveKey streams the (domain_key, code) pair of every non-deleted link.
func (r *linkRepository) ForEachLiveKey(ctx context.Context, fn func(domainKey, code string)) error {
	rows, err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Select("domain_key", "code").
		Where("deleted_at_utc IS NULL").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var domainKey, code string
		if err := rows.Scan(&domainKey, &code); err != nil {
			return err
		}
		fn(domainKey, code)
	}
	return rows.Err()
}
