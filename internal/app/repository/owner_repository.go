package repository

import (
	"context"
	"strings"

	"github.com/pslib/urlshortener/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OwnerRepository defines the data access contract for link owners.
type OwnerRepository interface {
	Ensure(ctx context.Context, owner *model.Owner) error
	List(ctx context.Context, filter OwnerFilter) ([]OwnerSummary, int64, error)
}

// OwnerFilter narrows an owner listing. Search is a case-insensitive
// substring match over display name, email and subject.
type OwnerFilter struct {
	Search string
	Sort   OwnerSortKey
	Limit  int
	Offset int
}

// OwnerSummary is an owner together with the number of its non-deleted links.
type OwnerSummary struct {
	model.Owner
	LiveLinks int64 `json:"live_links" gorm:"column:live_links"`
}

type ownerRepository struct {
	db *gorm.DB
}

// NewOwnerRepository returns a GORM-backed OwnerRepository.
func NewOwnerRepository(db *gorm.DB) OwnerRepository {
	return &ownerRepository{db: db}
}

// Ensure inserts the owner when missing. Supplied display name and email
// overwrite the stored values; absent ones leave them untouched.
func (r *ownerRepository) Ensure(ctx context.Context, owner *model.Owner) error {
	columns := make([]string, 0, 3)
	if owner.DisplayName != nil {
		columns = append(columns, "display_name")
	}
	if owner.Email != nil {
		columns = append(columns, "email")
	}

	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "sub"}}}
	if len(columns) == 0 {
		conflict.DoNothing = true
	} else {
		conflict.DoUpdates = clause.AssignmentColumns(append(columns, "updated_at_utc"))
	}

	return r.db.WithContext(ctx).Clauses(conflict).Create(owner).Error
}

const liveLinksColumn = "(SELECT COUNT(*) FROM links WHERE links.owner_sub = owners.sub AND links.deleted_at_utc IS NULL) AS live_links"

func (r *ownerRepository) List(ctx context.Context, filter OwnerFilter) ([]OwnerSummary, int64, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	scope := func(db *gorm.DB) *gorm.DB {
		if strings.TrimSpace(filter.Search) == "" {
			return db
		}
		p := containsPattern(filter.Search)
		return db.Where(
			"(LOWER(owners.display_name) LIKE ? ESCAPE '\\' OR LOWER(owners.email) LIKE ? ESCAPE '\\' OR LOWER(owners.sub) LIKE ? ESCAPE '\\')",
			p, p, p,
		)
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Owner{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).
		Model(&model.Owner{}).
		Select("owners.*, " + liveLinksColumn).
		Scopes(scope)
	for _, clause := range filter.Sort.orderClauses() {
		query = query.Order(clause)
	}

	var result []OwnerSummary
	if err := query.Limit(filter.Limit).Offset(filter.Offset).Scan(&result).Error; err != nil {
		return nil, 0, err
	}
	return result, total, nil
}
