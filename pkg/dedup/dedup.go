// Package dedup provides an optional Redis-backed cache that cuts down
// duplicate detail-page fetches for the same avito_item_id across
// concurrent workers processing the same article. A nil client makes every
// method a no-op, leaving queue.Store.CheckExistingCards (Postgres) as the
// sole de-duplication mechanism.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// seenTTL bounds how long an avito_item_id is remembered as "already
// claimed by some worker this pass" before it can be claimed again.
const seenTTL = 5 * time.Minute

const redisKeyPrefix = "avitosentry:dedup:"

// Cache deduplicates avito_item_ids within one article's catalog pass
// across the worker fleet.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New builds a Cache. rdb may be nil, in which case every method is a
// no-op and ClaimFirst always reports the caller as the first claimant.
func New(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger}
}

func redisKey(article string, avitoItemID int64) string {
	return fmt.Sprintf("%s%s:%d", redisKeyPrefix, article, avitoItemID)
}

// ClaimFirst reports whether the caller is the first worker to see
// avitoItemID for article within the current TTL window. A disabled
// cache always returns true, so callers fall through to the Postgres
// CheckExistingCards check unconditionally.
func (c *Cache) ClaimFirst(ctx context.Context, article string, avitoItemID int64) bool {
	if c == nil || c.rdb == nil {
		return true
	}

	ok, err := c.rdb.SetNX(ctx, redisKey(article, avitoItemID), 1, seenTTL).Result()
	if err != nil {
		c.logger.Warn("dedup cache claim failed, treating as first-seen", "article", article, "avito_item_id", avitoItemID, "error", err)
		return true
	}
	return ok
}
