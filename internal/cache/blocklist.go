package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// BlockSource is the authoritative block-list lookup.
type BlockSource interface {
	BlockedUserIDs(ctx context.Context, userID int) ([]int, error)
}

// BlockListCache caches block lists in Redis. Cache failures fall through to
// the source so discovery never depends on Redis being up. Entries are
// dropped through Invalidate when block events arrive; once the event feed
// stops, Bypass sends every read to the source.
type BlockListCache struct {
	client    *redis.Client
	source    BlockSource
	ttl       time.Duration
	keyPrefix string
	bypass    atomic.Bool
}

// NewBlockListCache constructs a BlockListCache.
func NewBlockListCache(client *redis.Client, source BlockSource, ttl time.Duration) *BlockListCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BlockListCache{client: client, source: source, ttl: ttl, keyPrefix: "wave:blocks:"}
}

// Bypass stops serving cached entries.
func (c *BlockListCache) Bypass() {
	if !c.bypass.Swap(true) {
		logrus.Warn("blocklist cache bypassed, reading blocks from the database")
	}
}

func (c *BlockListCache) activeClient() *redis.Client {
	if c.bypass.Load() {
		return nil
	}
	return c.client
}

func (c *BlockListCache) key(userID int) string {
	return fmt.Sprintf("%s%d", c.keyPrefix, userID)
}

// BlockedUserIDs returns the cached block list for userID, loading it from
// the source on a miss.
func (c *BlockListCache) BlockedUserIDs(ctx context.Context, userID int) ([]int, error) {
	log := logrus.WithField("user_id", userID)
	client := c.activeClient()

	if client != nil {
		raw, err := client.Get(ctx, c.key(userID)).Result()
		switch {
		case err == nil:
			var ids []int
			if jsonErr := json.Unmarshal([]byte(raw), &ids); jsonErr == nil {
				return ids, nil
			}
			log.Warn("blocklist cache: corrupt entry, reloading")
		case !errors.Is(err, redis.Nil):
			log.WithError(err).Warn("blocklist cache: redis get failed")
		}
	}

	ids, err := c.source.BlockedUserIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	if client != nil {
		payload, _ := json.Marshal(ids)
		if err := client.Set(ctx, c.key(userID), payload, c.ttl).Err(); err != nil {
			log.WithError(err).Warn("blocklist cache: redis set failed")
		}
	}
	return ids, nil
}

// Invalidate drops the cached entry for userID.
func (c *BlockListCache) Invalidate(ctx context.Context, userID int) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID)).Err()
}
