package model

import "time"

// Field limits shared by validation and the schema.
const (
	MaxDomainLength    = 255
	MaxCodeLength      = 16
	MaxTargetURLLength = 2048
	MaxOwnerSubLength  = 128
	MaxTitleLength     = 256
	MaxNoteLength      = 1024
)

// Link describes the core short-link entity.
//
// DomainKey mirrors Domain with "" standing in for no domain, so the filtered
// unique index treats every domain-less link as the same scope.
type Link struct {
	ID              int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Domain          *string    `json:"domain" gorm:"size:255"`
	DomainKey       string     `json:"-" gorm:"size:255;not null;default:'';uniqueIndex:ux_links_domain_code,priority:1,where:deleted_at_utc IS NULL"`
	Code            string     `json:"code" gorm:"size:16;not null;index:ix_links_code;uniqueIndex:ux_links_domain_code,priority:2,where:deleted_at_utc IS NULL"`
	TargetURL       string     `json:"target_url" gorm:"column:target_url;size:2048;not null"`
	IsEnabled       bool       `json:"is_enabled" gorm:"not null"`
	ActiveFromUTC   *time.Time `json:"active_from_utc" gorm:"column:active_from_utc"`
	ActiveToUTC     *time.Time `json:"active_to_utc" gorm:"column:active_to_utc"`
	OwnerSub        string     `json:"owner_sub" gorm:"size:128;not null;index:ix_links_owner_sub"`
	Title           *string    `json:"title" gorm:"size:256"`
	Note            *string    `json:"note" gorm:"size:1024"`
	Clicks          int64      `json:"clicks" gorm:"not null;default:0"`
	LastAccessAtUTC *time.Time `json:"last_access_at_utc" gorm:"column:last_access_at_utc"`
	CreatedAtUTC    time.Time  `json:"created_at_utc" gorm:"column:created_at_utc;not null;index:ix_links_created_at"`
	DeletedAtUTC    *time.Time `json:"deleted_at_utc" gorm:"column:deleted_at_utc;index:ix_links_deleted_at"`
	RowVersion      int64      `json:"row_version" gorm:"not null;default:1"`

	Owner *Owner `json:"-" gorm:"foreignKey:OwnerSub;references:Sub;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// DomainKey returns the uniqueness scope for an already normalized domain.
func DomainKey(domain *string) string {
	if domain == nil {
		return ""
	}
	return *domain
}

// IsDeleted reports whether the link has been soft-deleted.
func (l *Link) IsDeleted() bool {
	return l.DeletedAtUTC != nil
}

// ActiveAt reports whether now falls inside the link's [from, to) window.
func (l *Link) ActiveAt(now time.Time) bool {
	return WindowContains(l.ActiveFromUTC, l.ActiveToUTC, now)
}

// Live reports whether the link may be served at now.
func (l *Link) Live(now time.Time) bool {
	return l.IsEnabled && !l.IsDeleted() && l.ActiveAt(now)
}

// WindowContains reports whether from <= now < to, treating nil bounds as open.
func WindowContains(from, to *time.Time, now time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if to != nil && !now.Before(*to) {
		return false
	}
	return true
}
