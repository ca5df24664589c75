package repository

import (
	"context"
	"strings"

	"github.com/pslib/urlshortener/internal/app/model"
	"gorm.io/gorm"
)

// ReservedCodeRepository defines the data access contract for reserved codes.
// Codes are compared case-insensitively and stored lower-cased.
type ReservedCodeRepository interface {
	IsReserved(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]model.ReservedCode, error)
	Create(ctx context.Context, reserved *model.ReservedCode) error
	Delete(ctx context.Context, code string) error
}

type reservedCodeRepository struct {
	db *gorm.DB
}

// NewReservedCodeRepository returns a GORM-backed ReservedCodeRepository.
func NewReservedCodeRepository(db *gorm.DB) ReservedCodeRepository {
	return &reservedCodeRepository{db: db}
}

func (r *reservedCodeRepository) IsReserved(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ReservedCode{}).
		Where("code = ?", strings.ToLower(code)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *reservedCodeRepository) List(ctx context.Context) ([]model.ReservedCode, error) {
	var result []model.ReservedCode
	if err := r.db.WithContext(ctx).Order("code ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *reservedCodeRepository) Create(ctx context.Context, reserved *model.ReservedCode) error {
	reserved.Code = strings.ToLower(reserved.Code)
	if err := r.db.WithContext(ctx).Create(reserved).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrReservedCodeExists
		}
		return err
	}
	return nil
}

func (r *reservedCodeRepository) Delete(ctx context.Context, code string) error {
	result := r.db.WithContext(ctx).Where("code = ?", strings.ToLower(code)).Delete(&model.ReservedCode{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReservedCodeNotFound
	}
	return nil
}
