package model

import "time"

// Owner is the local record of an authenticated subject that owns links.
type Owner struct {
	Sub          string    `json:"sub" gorm:"primaryKey;size:128"`
	DisplayName  *string   `json:"display_name" gorm:"size:256"`
	Email        *string   `json:"email" gorm:"size:256;index:ix_owners_email"`
	UpdatedAtUTC time.Time `json:"updated_at_utc" gorm:"column:updated_at_utc;not null"`
}

// Models lists every table managed by auto-migration.
func Models() []interface{} {
	return []interface{}{&Owner{}, &Link{}, &LinkHit{}, &ReservedCode{}}
}
