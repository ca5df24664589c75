package service

import (
	"strings"

	"github.com/pslib/urlshortener/config"
)

// BotDetector flags user agents containing any configured signature.
type BotDetector struct {
	signatures []string
}

// NewBotDetector lower-cases the signature table. An empty table falls back
// to config.DefaultBotSignatures.
func NewBotDetector(signatures []string) *BotDetector {
	if len(signatures) == 0 {
		signatures = config.DefaultBotSignatures
	}
	normalized := make([]string, 0, len(signatures))
	for _, s := range signatures {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	return &BotDetector{signatures: normalized}
}

// IsBot reports whether userAgent matches the table. An empty agent is not a bot.
func (d *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return false
	}
	for _, sig := range d.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
