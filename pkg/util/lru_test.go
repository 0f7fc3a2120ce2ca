package util

import (
	"testing"
	"time"
)

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewLRUCache[string, int](CacheConfig{Capacity: 2})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Get("a") // a 成为最近使用
	cache.Put("c", 3)

	if _, ok := cache.Get("b"); ok {
		t.Error("b 应当被淘汰")
	}
	if v, ok := cache.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v %v", v, ok)
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, want 2", cache.Len())
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	cache, err := NewLRUCache[string, int](CacheConfig{Capacity: 4, TTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLRUCache: %v", err)
	}

	cache.Put("a", 1)
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("a"); ok {
		t.Error("过期元素应当在 Get 时被被动淘汰")
	}
}

func TestLRUCacheRejectsZeroCapacity(t *testing.T) {
	if _, err := NewLRUCache[string, int](CacheConfig{}); err == nil {
		t.Error("Capacity 为 0 时应当返回错误")
	}
}
