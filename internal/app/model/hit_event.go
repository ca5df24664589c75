package model

import "time"

// HitEvent carries one redirect hit from the HTTP edge to the hit recorder via NATS JetStream.
type HitEvent struct {
	ID        string    `json:"id"`
	LinkID    int64     `json:"link_id"`
	Referer   string    `json:"referer,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	HitStreamName       = "HITS"
	HitStreamSubject    = "hits.events"
	HitConsumerName     = "hit-recorder"
	HitStreamMaxBytes   = 1024 * 1024 * 100 // 100MB
	HitStreamDuplicates = 2 * time.Minute
)
