package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfapi/internal/domain"
)

type countingStore struct {
	keys    map[string]int64
	lookups int
	err     error
}

func (s *countingStore) Lookup(ctx context.Context, apiKey string) (*domain.Credential, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	id, ok := s.keys[apiKey]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &domain.Credential{ID: id, APIKey: apiKey}, nil
}

func (s *countingStore) RotateKey(ctx context.Context, cred domain.Credential, newKey string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.keys, cred.APIKey)
	s.keys[newKey] = cred.ID
	return nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mrs.Close)
	return mrs, redis.NewClient(&redis.Options{Addr: mrs.Addr()})
}

func TestCachedStore_HitSkipsBackingStore(t *testing.T) {
	mrs, rdb := newRedis(t)
	backing := &countingStore{keys: map[string]int64{"k": 1}}
	store := NewCachedStore(backing, rdb, time.Minute)
	ctx := context.Background()

	_, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	cred, err := store.Lookup(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, int64(1), cred.ID)
	assert.Equal(t, 1, backing.lookups)
	assert.True(t, mrs.Exists(cacheKey("k")))
	assert.InDelta(t, time.Minute.Seconds(), mrs.TTL(cacheKey("k")).Seconds(), 1)
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	mrs, rdb := newRedis(t)
	backing := &countingStore{keys: map[string]int64{}}
	store := NewCachedStore(backing, rdb, time.Minute)

	_, err := store.Lookup(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	assert.False(t, mrs.Exists(cacheKey("unknown")))
}

func TestCachedStore_RotateEvictsOldKey(t *testing.T) {
	_, rdb := newRedis(t)
	backing := &countingStore{keys: map[string]int64{"old": 5}}
	store := NewCachedStore(backing, rdb, time.Minute)
	ctx := context.Background()

	cred, err := store.Lookup(ctx, "old")
	require.NoError(t, err)
	require.NoError(t, store.RotateKey(ctx, *cred, "new"))

	_, err = store.Lookup(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	got, err := store.Lookup(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ID)
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	mrs, rdb := newRedis(t)
	mrs.Close()
	backing := &countingStore{keys: map[string]int64{"k": 9}}
	store := NewCachedStore(backing, rdb, 0)

	cred, err := store.Lookup(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(9), cred.ID)
}

func TestCachedStore_PropagatesStorageErrors(t *testing.T) {
	_, rdb := newRedis(t)
	boom := errors.New("db down")
	store := NewCachedStore(&countingStore{err: boom}, rdb, time.Minute)

	_, err := store.Lookup(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, store.RotateKey(context.Background(), domain.Credential{ID: 1, APIKey: "k"}, "n"), boom)
}

func TestCachedStore_FailedRotationKeepsOldKey(t *testing.T) {
	mrs, rdb := newRedis(t)
	backing := &countingStore{keys: map[string]int64{"k": 1}}
	store := NewCachedStore(backing, rdb, time.Minute)
	ctx := context.Background()

	backing.err = errors.New("db down")
	require.Error(t, store.RotateKey(ctx, domain.Credential{ID: 1, APIKey: "k"}, "n"))
	assert.False(t, mrs.Exists(cacheKey("k")))

	backing.err = nil
	cred, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cred.ID)
}

func TestCachedStore_RotateFailsWhenRevocationCannotBeCached(t *testing.T) {
	mrs, rdb := newRedis(t)
	backing := &countingStore{keys: map[string]int64{"k": 1}}
	store := NewCachedStore(backing, rdb, time.Minute)
	mrs.Close()

	err := store.RotateKey(context.Background(), domain.Credential{ID: 1, APIKey: "k"}, "n")
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Contains(t, backing.keys, "k")
	assert.NotContains(t, backing.keys, "n")
}

// gatedStore pauses the first lookup of one key after it has read the row,
// so a rotation can commit while that lookup is still in flight.
type gatedStore struct {
	mu      sync.Mutex
	keys    map[string]int64
	gateKey string
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Lookup(ctx context.Context, apiKey string) (*domain.Credential, error) {
	s.mu.Lock()
	id, ok := s.keys[apiKey]
	s.mu.Unlock()

	if apiKey == s.gateKey {
		gated := false
		s.once.Do(func() { gated = true })
		if gated {
			close(s.read)
			<-s.release
		}
	}
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &domain.Credential{ID: id, APIKey: apiKey}, nil
}

func (s *gatedStore) RotateKey(ctx context.Context, cred domain.Credential, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, cred.APIKey)
	s.keys[newKey] = cred.ID
	return nil
}

func TestCachedStore_LookupRacingRotationCannotRestoreOldKey(t *testing.T) {
	mrs, rdb := newRedis(t)
	backing := &gatedStore{
		keys:    map[string]int64{"old": 1},
		gateKey: "old",
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	store := NewCachedStore(backing, rdb, time.Minute)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := store.Lookup(ctx, "old")
		done <- err
	}()
	<-backing.read

	require.NoError(t, store.RotateKey(ctx, domain.Credential{ID: 1, APIKey: "old"}, "new"))
	close(backing.release)
	require.NoError(t, <-done)

	_, err := store.Lookup(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	marker, err := mrs.Get(cacheKey("old"))
	require.NoError(t, err)
	assert.Equal(t, revokedMarker, marker)
	assert.GreaterOrEqual(t, mrs.TTL(cacheKey("old")), time.Minute)

	cred, err := store.Lookup(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cred.ID)
}
