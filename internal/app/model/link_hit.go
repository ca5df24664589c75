package model

import "time"

const (
	MaxRefererLength   = 2048
	MaxUserAgentLength = 512
)

// LinkHit is one recorded visit of a link. RemoteIPHash holds the SHA-256 of
// the client address, never the address itself. EventID is the id of the
// queued hit event, so a redelivered event is stored once.
type LinkHit struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID      *string   `json:"-" gorm:"size:36;uniqueIndex:ux_link_hits_event_id"`
	LinkID       int64     `json:"link_id" gorm:"not null;index:ix_link_hits_link_id"`
	AtUTC        time.Time `json:"at_utc" gorm:"column:at_utc;not null;index:ix_link_hits_at"`
	Referer      *string   `json:"referer" gorm:"size:2048"`
	UserAgent    *string   `json:"user_agent" gorm:"size:512"`
	RemoteIPHash []byte    `json:"-" gorm:"column:remote_ip_hash;size:32"`
	IsBot        bool      `json:"is_bot" gorm:"not null;default:false"`

	Link *Link `json:"-" gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE"`
}
