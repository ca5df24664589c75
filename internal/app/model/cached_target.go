package model

import "time"

// CachedTarget is what the resolve cache keeps per (code, origin). NotAfter
// bounds how long the entry stays authoritative: past it, a higher-precedence
// link may have become active.
type CachedTarget struct {
	LinkID        int64      `json:"link_id"`
	Code          string     `json:"code"`
	TargetURL     string     `json:"target_url"`
	ActiveFromUTC *time.Time `json:"active_from_utc,omitempty"`
	ActiveToUTC   *time.Time `json:"active_to_utc,omitempty"`
	NotAfter      *time.Time `json:"not_after,omitempty"`
}

// ValidAt reports whether the cached decision still holds at now.
func (c *CachedTarget) ValidAt(now time.Time) bool {
	if c.NotAfter != nil && !now.Before(*c.NotAfter) {
		return false
	}
	return WindowContains(c.ActiveFromUTC, c.ActiveToUTC, now)
}
