package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-room/domain"
)

// generationTTL outlives any in-flight snapshot read by a wide margin.
const generationTTL = 24 * time.Hour

var errStaleSnapshot = errors.New("snapshot invalidated during read")

type snapshotBackend interface {
	Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Cache keeps board snapshots in Redis so reconnect storms do not rebuild
// the same board from the primary store. Mutations evict through Invalidate.
//
// Every Invalidate bumps a per-board generation. A snapshot read from the
// base store is only written back while the generation it started under is
// still current, so a read racing a mutation never re-caches the old board.
type Cache struct {
	base  snapshotBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a read-through snapshot cache using the provided Redis client and TTL.
func NewCache(base snapshotBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snap, ok := c.load(ctx, boardID); ok {
		return snap, nil
	}

	gen, genOK := c.generation(ctx, boardID)
	snap, err := c.base.Snapshot(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	if genOK {
		c.store(ctx, boardID, gen, snap)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot of a board.
func (c *Cache) Invalidate(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	genKey := snapshotGenKey(boardID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, snapshotCacheKey(boardID))
		return nil
	})
}

// generation reports the board's current invalidation count. A Redis failure
// reports false so the caller skips the write-back.
func (c *Cache) generation(ctx context.Context, boardID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, snapshotGenKey(boardID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false
	}
	return gen, true
}

func (c *Cache) load(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	var snap domain.BoardSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return domain.BoardSnapshot{}, false
	}
	return snap, true
}

// store writes snap back only if no Invalidate ran since gen was read.
func (c *Cache) store(ctx context.Context, boardID string, gen int64, snap domain.BoardSnapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	genKey := snapshotGenKey(boardID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, snapshotCacheKey(boardID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func snapshotCacheKey(boardID string) string {
	return "board-snapshot:" + boardID
}

func snapshotGenKey(boardID string) string {
	return "board-snapshot-gen:" + boardID
}
