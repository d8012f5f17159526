package router_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/router"
)

func TestQueryCache_EvictsExpiredBeforeOldest(t *testing.T) {
	c := router.NewQueryCache(2)
	c.Set("a", json.RawMessage(`1`), time.Millisecond)
	c.Set("b", json.RawMessage(`2`), time.Hour)
	time.Sleep(5 * time.Millisecond)

	// "a" has expired; inserting "c" must evict it, not "b".
	c.Set("c", json.RawMessage(`3`), time.Hour)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected b to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}

func TestQueryCache_EvictsOldestWhenNoneExpired(t *testing.T) {
	c := router.NewQueryCache(2)
	c.Set("a", json.RawMessage(`1`), time.Hour)
	time.Sleep(time.Millisecond)
	c.Set("b", json.RawMessage(`2`), time.Hour)
	time.Sleep(time.Millisecond)

	c.Set("c", json.RawMessage(`3`), time.Hour)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatal("expected b to survive eviction")
	}
}

func TestCacheKey_CanonicalizesArgOrder(t *testing.T) {
	k1, err := router.CacheKey("fn", json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := router.CacheKey("fn", json.RawMessage(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected identical keys for reordered args, got %q != %q", k1, k2)
	}
}
