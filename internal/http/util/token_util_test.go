package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenSigner_RoundTrip(t *testing.T) {
	s := NewTokenSigner([]byte("secret"))

	token, err := s.Issue("alice", true, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact JWT, got %q", token)
	}
	id, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.Subject != "alice" || !id.Admin {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.ExpiresAt.IsZero() {
		t.Fatal("expiry must be carried over")
	}
}

func TestTokenSigner_Rejects(t *testing.T) {
	s := NewTokenSigner([]byte("secret"))
	token, _ := s.Issue("alice", false, time.Minute)
	parts := strings.Split(token, ".")

	forged, _ := NewTokenSigner([]byte("secret")).Issue("mallory", true, time.Minute)
	forgedParts := strings.Split(forged, ".")

	sig := parts[2]
	flipped := "A" + sig[1:]
	if sig[0] == 'A' {
		flipped = "B" + sig[1:]
	}

	for name, tok := range map[string]string{
		"empty":           "",
		"no separator":    parts[1],
		"bad signature":   parts[0] + "." + parts[1] + "." + flipped,
		"swapped payload": parts[0] + "." + forgedParts[1] + "." + sig,
		"garbage":         "!!!.???.###",
	} {
		if _, err := s.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenSigner_PinsSigningMethod(t *testing.T) {
	s := NewTokenSigner([]byte("secret"))
	claims := &Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Parse(hs384); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS384 token must be rejected, got %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Parse(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token must be rejected, got %v", err)
	}
}

func TestTokenSigner_RequiresExpiry(t *testing.T) {
	s := NewTokenSigner([]byte("secret"))
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Parse(noExp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without exp must be rejected, got %v", err)
	}
}

func TestTokenSigner_Expiry(t *testing.T) {
	s := NewTokenSigner([]byte("secret"))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	token, err := s.Issue("alice", false, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s.Parse(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := s.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestTokenSigner_MissingSecret(t *testing.T) {
	s := NewTokenSigner(nil)
	if _, err := s.Issue("alice", false, time.Minute); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := s.Parse("a.b.c"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewTokenSigner([]byte("k")).Issue("", false, time.Minute); err == nil {
		t.Fatal("empty subject must be rejected")
	}
}
