package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func claimsFor(exp time.Time) Claims {
	return Claims{
		Sub:   "usr_1",
		Name:  "Jordan Reviewer",
		Email: "jordan@example.gov",
		Role:  "reviewer",
		JTI:   "jti-1",
		Exp:   exp.Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, claimsFor(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "usr_1" || claims.Email != "jordan@example.gov" || claims.Role != "reviewer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, claimsFor(time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), claimsFor(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
	if _, err := ParseToken([]byte("secret"), issued+".extra"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken(t *testing.T) {
	if token, ok := BearerToken("Bearer abc.def"); !ok || token != "abc.def" {
		t.Fatalf("BearerToken() = %q, %v", token, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("expected Basic scheme to be rejected")
	}
	if _, ok := BearerToken("Bearer   "); ok {
		t.Fatal("expected empty token to be rejected")
	}
}

func TestTokenFormatIsVersioned(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), claimsFor(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if !strings.HasPrefix(issued, "v1.") || strings.Count(issued, ".") != 2 {
		t.Fatalf("unexpected token shape %q", issued)
	}
	if _, err := ParseToken([]byte("secret"), "v2"+strings.TrimPrefix(issued, "v1")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken for unknown version", err)
	}
}

func TestIdentitySnapshotIsOptional(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{Sub: "usr_2", JTI: "jti-2", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken([]byte("secret"), issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Iat == 0 {
		t.Fatal("expected iat to be stamped at issue time")
	}
	if _, err := IssueToken([]byte("secret"), Claims{Sub: "usr_2"}); err == nil {
		t.Fatal("expected missing jti and exp to be rejected")
	}
}

func TestParseTokenUsesClock(t *testing.T) {
	issuedAt := time.Date(2026, 2, 5, 15, 0, 0, 0, time.UTC)
	original := now
	now = func() time.Time { return issuedAt }
	t.Cleanup(func() { now = original })

	issued, err := IssueToken([]byte("secret"), claimsFor(issuedAt.Add(time.Minute)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued); err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	now = func() time.Time { return issuedAt.Add(time.Minute) }
	if _, err := ParseToken([]byte("secret"), issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken at exp", err)
	}
}
