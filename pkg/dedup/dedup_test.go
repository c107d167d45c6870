package dedup

import (
	"context"
	"testing"
)

func TestRedisKey(t *testing.T) {
	got := redisKey("iphone-13", 42)
	want := "avitosentry:dedup:iphone-13:42"
	if got != want {
		t.Errorf("redisKey() = %q, want %q", got, want)
	}
}

func TestRedisKey_Deterministic(t *testing.T) {
	k1 := redisKey("article-a", 1)
	k2 := redisKey("article-a", 1)
	if k1 != k2 {
		t.Error("redisKey should be deterministic")
	}

	if k1 == redisKey("article-b", 1) {
		t.Error("different articles should produce different keys")
	}
	if k1 == redisKey("article-a", 2) {
		t.Error("different item IDs should produce different keys")
	}
}

func TestClaimFirst_DisabledCache(t *testing.T) {
	var c *Cache
	if !c.ClaimFirst(context.Background(), "article-a", 1) {
		t.Error("a nil Cache should always report first-seen")
	}

	c = New(nil, nil)
	if !c.ClaimFirst(context.Background(), "article-a", 1) {
		t.Error("a Cache with no Redis client should always report first-seen")
	}
}

func TestSeenTTL(t *testing.T) {
	if seenTTL.Minutes() != 5 {
		t.Errorf("seenTTL = %v, want 5 minutes", seenTTL)
	}
}
