package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	u "pdfapi/internal/utils"
)

const redisTimeout = 1 * time.Second

// CachedEngine serves repeated documents from Redis. Only successful renders
// are stored; Redis failures are logged and bypassed.
type CachedEngine struct {
	next  Engine
	rdb   *redis.Client
	scope string
	ttl   time.Duration
}

// NewCachedEngine wraps next. scope separates entries rendered with
// different engines or page settings.
func NewCachedEngine(next Engine, rdb *redis.Client, scope string, ttl time.Duration) *CachedEngine {
	if ttl <= 0 {
		ttl = 1 * time.Minute
	}
	return &CachedEngine{next: next, rdb: rdb, scope: scope, ttl: ttl}
}

func (e *CachedEngine) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	key := e.cacheKey(html)

	if cached, err := e.get(ctx, key); err == nil && cached != nil {
		u.Debug("PDF cache hit", "key", key)
		return cached, nil
	}

	pdf, err := e.next.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	e.set(ctx, key, pdf)
	return pdf, nil
}

// cacheKey creates a SHA256-based key from the document and the scope.
func (e *CachedEngine) cacheKey(html string) string {
	h := sha256.New()
	h.Write([]byte(e.scope))
	h.Write([]byte{0})
	h.Write([]byte(html))
	return "pdfcache:" + hex.EncodeToString(h.Sum(nil))
}

func (e *CachedEngine) get(ctx context.Context, key string) ([]byte, error) {
	ctxRedis, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	cached, err := e.rdb.Get(ctxRedis, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return nil, err
	}
	return cached, nil
}

func (e *CachedEngine) set(ctx context.Context, key string, data []byte) {
	ctxRedis, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
	defer cancel()

	if err := e.rdb.Set(ctxRedis, key, data, e.ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
