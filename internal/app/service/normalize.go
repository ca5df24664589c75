package service

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pslib/urlshortener/internal/app/model"
)

var (
	codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// Self-service creators pick codes of at least three characters.
	selfServiceCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,16}$`)
)

// NormalizeDomain trims the input and maps blank to nil. A value starting
// with http:// or https:// is a full origin and is kept as written (minus a
// trailing slash); anything else is a bare host and is lower-cased.
func NormalizeDomain(raw *string) *string {
	if raw == nil {
		return nil
	}
	d := strings.TrimSpace(*raw)
	if d == "" {
		return nil
	}
	if isOrigin(d) {
		d = strings.TrimRight(d, "/")
	} else {
		d = strings.ToLower(d)
	}
	return &d
}

func isOrigin(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func validateDomain(domain *string) error {
	if domain == nil {
		return nil
	}
	d := *domain
	if utf8.RuneCountInString(d) > model.MaxDomainLength {
		return invalid("domain", "must be at most 255 characters")
	}
	if strings.IndexFunc(d, unicode.IsSpace) >= 0 {
		return invalid("domain", "must not contain whitespace")
	}
	if isOrigin(d) {
		u, err := url.Parse(d)
		if err != nil || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
			return invalid("domain", "must be a bare host or a scheme://host origin")
		}
		return nil
	}
	if strings.ContainsAny(d, "/?#@") {
		return invalid("domain", "must be a bare host or a scheme://host origin")
	}
	return nil
}

// normalizeText trims optional free text and maps blank to nil.
func normalizeText(raw *string) *string {
	if raw == nil {
		return nil
	}
	t := strings.TrimSpace(*raw)
	if t == "" {
		return nil
	}
	return &t
}

func validateTargetURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", invalid("target_url", "is required")
	}
	if len(target) > model.MaxTargetURLLength {
		return "", invalid("target_url", "must be at most 2048 characters")
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", invalid("target_url", "must be an absolute URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", invalid("target_url", "must use http or https")
	}
	return target, nil
}

func validateCode(code string, selfService bool) error {
	if len(code) > model.MaxCodeLength {
		return invalid("code", "must be at most 16 characters")
	}
	if !codePattern.MatchString(code) {
		return invalid("code", "may only contain letters, digits, '-' and '_'")
	}
	if selfService && !selfServiceCodePattern.MatchString(code) {
		return invalid("code", "must be at least 3 characters")
	}
	return nil
}

func validateOptionalText(field string, value *string, max int) error {
	if value != nil && utf8.RuneCountInString(*value) > max {
		return invalid(field, "is too long")
	}
	return nil
}

// normalizeWindow converts both bounds to UTC and requires to > from.
func normalizeWindow(from, to *time.Time) (*time.Time, *time.Time, error) {
	var f, t *time.Time
	if from != nil {
		v := from.UTC()
		f = &v
	}
	if to != nil {
		v := to.UTC()
		t = &v
	}
	if f != nil && t != nil && !t.After(*f) {
		return nil, nil, invalid("active_to_utc", "must be after active_from_utc")
	}
	return f, t, nil
}

// BuildShortURL renders the public URL of a link. A full-origin domain is used
// as is, a bare host borrows the scheme of baseURL, and no domain falls back
// to baseURL itself.
func BuildShortURL(domain *string, code, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if domain == nil || strings.TrimSpace(*domain) == "" {
		return base + "/" + code
	}

	d := strings.TrimSpace(*domain)
	if isOrigin(d) {
		return strings.TrimRight(d, "/") + "/" + code
	}

	scheme := "https"
	if u, err := url.Parse(base); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return scheme + "://" + d + "/" + code
}
