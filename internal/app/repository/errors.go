package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")

	// ErrCodeTaken signals that a live link already uses the (domain, code) pair.
	ErrCodeTaken = errors.New("code already taken in domain")

	// ErrStaleVersion signals that the row changed since it was read.
	ErrStaleVersion = errors.New("row version mismatch")

	ErrReservedCodeNotFound = errors.New("reserved code not found")
	ErrReservedCodeExists   = errors.New("reserved code already exists")

	errDuplicateHit = errors.New("hit event already recorded")
)

const pgUniqueViolation = "23505"

// isUniqueViolation recognises unique-constraint failures from every driver we run on.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
