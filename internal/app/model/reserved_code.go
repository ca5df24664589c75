package model

import "time"

// ReservedCode blocks a code from self-service creation.
type ReservedCode struct {
	Code         string    `json:"code" gorm:"primaryKey;size:32"`
	Reason       *string   `json:"reason" gorm:"size:256"`
	CreatedAtUTC time.Time `json:"created_at_utc" gorm:"column:created_at_utc;not null"`
}

const MaxReservedCodeLength = 32
