package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FACorreiaa/go-user-directory/app/cache"
	"github.com/FACorreiaa/go-user-directory/internal/types"
)

// refreshTokenPrefix namespaces refresh-token mappings in the session store,
// keeping them apart from the directory's result-cache keys.
const refreshTokenPrefix = "refresh_token:"

var _ SessionStore = (*CacheSessionStore)(nil)

// SessionStore tracks live refresh tokens: one token maps to one user id,
// with a fixed TTL. A token leaves the store on redemption, logout or expiry.
type SessionStore interface {
	// Store records token → userID with the store's TTL.
	Store(ctx context.Context, token string, userID int64) error

	// Redeem atomically fetches and removes the mapping for token. A token
	// can be redeemed at most once; a second redemption, or redemption of an
	// unknown token, returns types.ErrUnauthenticated.
	Redeem(ctx context.Context, token string) (int64, error)

	// Delete drops the mapping for token. Idempotent.
	Delete(ctx context.Context, token string) error
}

// CacheSessionStore implements SessionStore on the shared cache layer
// (Redis in production).
type CacheSessionStore struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewCacheSessionStore(c cache.Cache, ttl time.Duration) *CacheSessionStore {
	return &CacheSessionStore{cache: c, ttl: ttl}
}

func (s *CacheSessionStore) Store(ctx context.Context, token string, userID int64) error {
	err := s.cache.Set(ctx, refreshTokenPrefix+token, []byte(strconv.FormatInt(userID, 10)), s.ttl)
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (s *CacheSessionStore) Redeem(ctx context.Context, token string) (int64, error) {
	val, err := s.cache.GetDel(ctx, refreshTokenPrefix+token)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			// Already rotated, revoked or expired tokens are indistinguishable
			// from tokens that never existed.
			return 0, types.ErrUnauthenticated
		}
		return 0, fmt.Errorf("redeem refresh token: %w", err)
	}
	userID, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redeem refresh token: corrupt mapping %q: %w", val, err)
	}
	return userID, nil
}

func (s *CacheSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.cache.Delete(ctx, refreshTokenPrefix+token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}
