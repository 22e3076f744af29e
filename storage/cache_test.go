package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"board-room/domain"
)

type stubSnapshots struct {
	calls int
	fn    func(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

func (s *stubSnapshots) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	s.calls++
	if s.fn == nil {
		return domain.BoardSnapshot{}, errors.New("unexpected Snapshot call")
	}
	return s.fn(ctx, boardID)
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleSnapshot() domain.BoardSnapshot {
	return domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Title: "Roadmap", OwnerID: "u1", Members: []domain.User{}, Viewers: []domain.User{}},
		Columns: []domain.ColumnSnapshot{
			{Column: domain.Column{ID: "col1", BoardID: "b1", Title: "Todo"}, Cards: []domain.Card{}},
		},
		Tags: []domain.Tag{},
	}
}

func TestCacheSnapshotMissThenHit(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	base := &stubSnapshots{fn: func(_ context.Context, boardID string) (domain.BoardSnapshot, error) {
		require.Equal(t, "b1", boardID)
		return sampleSnapshot(), nil
	}}
	cache := NewCache(base, client, time.Minute)

	first, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "Roadmap", first.Title)
	require.Equal(t, 1, base.calls)

	ttl := mr.TTL(snapshotCacheKey("b1"))
	require.True(t, ttl > 0 && ttl <= time.Minute, "unexpected TTL: %v", ttl)

	second, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 1, base.calls)
	require.Equal(t, "Todo", second.Columns[0].Title)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	base := &stubSnapshots{fn: func(context.Context, string) (domain.BoardSnapshot, error) {
		return sampleSnapshot(), nil
	}}
	cache := NewCache(base, client, time.Minute)

	_, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	cache.Invalidate(ctx, "b1")
	require.False(t, mr.Exists(snapshotCacheKey("b1")))

	_, err = cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 2, base.calls)
}

func TestCacheSkipsWriteBackWhenInvalidatedDuringRead(t *testing.T) {
	mr, client := newMiniredis(t)
	ctx := context.Background()

	var cache *Cache
	base := &stubSnapshots{}
	base.fn = func(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
		snap := sampleSnapshot()
		if base.calls == 1 {
			// a mutation commits and evicts while this read is in flight
			cache.Invalidate(ctx, boardID)
			return snap, nil
		}
		snap.Title = "Renamed"
		return snap, nil
	}
	cache = NewCache(base, client, time.Minute)

	stale, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "Roadmap", stale.Title)
	require.False(t, mr.Exists(snapshotCacheKey("b1")), "stale snapshot was written back")

	fresh, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", fresh.Title)
	require.Equal(t, 2, base.calls)
	require.True(t, mr.Exists(snapshotCacheKey("b1")))

	cached, err := cache.Snapshot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "Renamed", cached.Title)
	require.Equal(t, 2, base.calls)
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newMiniredis(t)
	require.NoError(t, mr.Set(snapshotCacheKey("b1"), "{not json"))

	base := &stubSnapshots{fn: func(context.Context, string) (domain.BoardSnapshot, error) {
		return sampleSnapshot(), nil
	}}
	cache := NewCache(base, client, time.Minute)

	snap, err := cache.Snapshot(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, "b1", snap.ID)
	require.Equal(t, 1, base.calls)
}

func TestCacheBackendErrorIsNotCached(t *testing.T) {
	mr, client := newMiniredis(t)

	base := &stubSnapshots{fn: func(context.Context, string) (domain.BoardSnapshot, error) {
		return domain.BoardSnapshot{}, domain.NotFound("Board not found")
	}}
	cache := NewCache(base, client, time.Minute)

	_, err := cache.Snapshot(context.Background(), "gone")
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
	require.False(t, mr.Exists(snapshotCacheKey("gone")))
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	base := &stubSnapshots{fn: func(context.Context, string) (domain.BoardSnapshot, error) {
		return sampleSnapshot(), nil
	}}
	cache := NewCache(base, nil, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cache.Snapshot(context.Background(), "b1")
		require.NoError(t, err)
	}
	cache.Invalidate(context.Background(), "b1")
	require.Equal(t, 2, base.calls)
}
