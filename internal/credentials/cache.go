package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfapi/internal/domain"
	u "pdfapi/internal/utils"
)

// revokedMarker replaces the cache entry of a rotated key. Fills use SETNX,
// so a lookup that read the old row before the rotation cannot bring it back.
const revokedMarker = "revoked"

// CachedStore fronts a Store with a short-lived redis cache of key lookups.
// Misses are never cached, so newly issued keys work immediately.
type CachedStore struct {
	next  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedStore wraps next. A non-positive ttl defaults to 30s.
func NewCachedStore(next Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{next: next, redis: rdb, ttl: ttl}
}

func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "cred:" + hex.EncodeToString(sum[:])
}

func (s *CachedStore) Lookup(ctx context.Context, apiKey string) (*domain.Credential, error) {
	key := cacheKey(apiKey)

	redisCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	raw, err := s.redis.Get(redisCtx, key).Bytes()
	cancel()
	switch {
	case err == nil:
		if string(raw) == revokedMarker {
			return nil, domain.ErrCredentialNotFound
		}
		var cred domain.Credential
		if jsonErr := json.Unmarshal(raw, &cred); jsonErr == nil && cred.APIKey == apiKey {
			return &cred, nil
		}
	case !errors.Is(err, redis.Nil):
		u.Warn("Credential cache read failed", "error", err)
	}

	cred, err := s.next.Lookup(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(cred); err == nil {
		redisCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		if err := s.redis.SetNX(redisCtx, key, data, s.ttl).Err(); err != nil {
			u.Warn("Credential cache write failed", "error", err)
		}
		cancel()
	}
	return cred, nil
}

// RotateKey marks the old key revoked before updating the backing store. The
// marker outlives any fill that could have started before the update.
func (s *CachedStore) RotateKey(ctx context.Context, cred domain.Credential, newKey string) error {
	key := cacheKey(cred.APIKey)

	redisCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	err := s.redis.Set(redisCtx, key, revokedMarker, 2*s.ttl).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("%w: revoke cached key: %w", domain.ErrInternal, err)
	}

	if err := s.next.RotateKey(ctx, cred, newKey); err != nil {
		redisCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
		if derr := s.redis.Del(redisCtx, key).Err(); derr != nil {
			u.Warn("Credential cache revoke rollback failed", "error", derr)
		}
		cancel()
		return err
	}
	return nil
}
