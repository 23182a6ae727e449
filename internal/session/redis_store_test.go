package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"govreview/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func reviewer(id string) store.User {
	return store.User{ID: id, DisplayName: "Jordan Reviewer", Email: "jordan@example.gov", Role: "reviewer"}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "://bad"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", reviewer("usr_1"), time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_1" || user.Email != "jordan@example.gov" || user.Role != "reviewer" {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-exp", reviewer("usr_2"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := rs.LookupRefreshSession(ctx, "hash-exp"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveRejectsPastExpiry(t *testing.T) {
	rs, _ := setupTestRedis(t)
	if err := rs.SaveRefreshSession(context.Background(), "hash-past", reviewer("usr_3"), time.Now().Add(-time.Minute)); err == nil {
		t.Fatal("expected error for past expiry")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-rev", reviewer("usr_4"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-rev"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after revoke, got %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoking unknown token failed: %v", err)
	}
}

func TestUnknownRoleNormalizedToRequester(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	user := reviewer("usr_5")
	user.Role = "editor"
	if err := rs.SaveRefreshSession(ctx, "hash-role", user, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	got, err := rs.LookupRefreshSession(ctx, "hash-role")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.Role != "requester" {
		t.Errorf("expected requester, got %q", got.Role)
	}
}

func TestRevokeAccessToken(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.RevokeAccessToken(ctx, "jti-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsAccessTokenRevoked = %v, %v; want true", revoked, err)
	}

	s.FastForward(11 * time.Minute)
	revoked, err = rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("IsAccessTokenRevoked after expiry = %v, %v; want false", revoked, err)
	}
}
