package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", true)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := s.Sign(Claims{Sub: "google:123", Email: "vet@clinic.com"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "google:123" || claims.Email != "vet@clinic.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Exp-claims.Iat != int64(defaultTTL/time.Second) {
		t.Fatalf("unexpected ttl: %d", claims.Exp-claims.Iat)
	}
}

func TestVerifyRejectsTamperingAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := NewSigner("secret", false)
	s.Now = func() time.Time { return now }

	token, err := s.Sign(Claims{Sub: "user-1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, _ := NewSigner("other", false)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	parts := strings.Split(token, ".")
	if _, err := s.Verify(parts[0] + "." + parts[1] + ".AAAA"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for bad signature, got %v", err)
	}

	now = now.Add(25 * time.Hour)
	if _, err := s.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestNewSignerRequiresSecretInProduction(t *testing.T) {
	if _, err := NewSigner("", true); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewSigner("", false); err != nil {
		t.Fatalf("expected dev fallback, got %v", err)
	}
}
