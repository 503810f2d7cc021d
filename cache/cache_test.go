package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/appraisio/acore/ecode"
)

func TestPutAndGet(t *testing.T) {
	c := New(nil)

	keyData := map[string]any{"image": "abc123", "model": "v2"}
	key, err := c.Put("vision", keyData, "analysis result", nil)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if key == "" {
		t.Fatal("expected a non-empty key")
	}

	value, ok := c.Get("vision", keyData)
	if !ok {
		t.Fatal("expected a hit")
	}
	if value != "analysis result" {
		t.Errorf("expected stored value back, got %v", value)
	}

	if _, ok := c.Get("vision", map[string]any{"image": "other"}); ok {
		t.Error("expected a miss for different key data")
	}
	if _, ok := c.Get("market", keyData); ok {
		t.Error("expected a miss for same data in another namespace")
	}
}

func TestKeyIgnoresMapOrder(t *testing.T) {
	a := map[string]any{"image": "abc", "model": "v2", "opts": map[string]any{"x": 1, "y": 2}}
	b := map[string]any{"opts": map[string]any{"y": 2, "x": 1}, "model": "v2", "image": "abc"}

	ka, err := buildKey("vision", a)
	if err != nil {
		t.Fatalf("buildKey failed: %v", err)
	}
	kb, err := buildKey("vision", b)
	if err != nil {
		t.Fatalf("buildKey failed: %v", err)
	}
	if ka != kb {
		t.Errorf("expected identical keys for reordered maps: %s vs %s", ka, kb)
	}
}

func TestKeyRoundsFloatNoise(t *testing.T) {
	a := map[string]any{"score": 0.1 + 0.2}
	b := map[string]any{"score": 0.3}

	ka, _ := buildKey("price", a)
	kb, _ := buildKey("price", b)
	if ka != kb {
		t.Errorf("expected float noise to not change the key: %s vs %s", ka, kb)
	}

	c := map[string]any{"score": 0.300001}
	kc, _ := buildKey("price", c)
	if ka == kc {
		t.Error("expected a difference above the precision bound to change the key")
	}
}

func TestKeyNamespacePrefix(t *testing.T) {
	key, err := buildKey("vision", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("buildKey failed: %v", err)
	}
	if len(key) != len("vision:")+16 {
		t.Errorf("unexpected key shape: %s", key)
	}
}

func TestUnserializableKeyData(t *testing.T) {
	c := New(nil)

	_, err := c.Put("vision", map[string]any{"fn": func() {}}, "value", nil)
	if err == nil {
		t.Fatal("expected an error for unserializable key data")
	}
	var coded *ecode.Error
	if !errors.As(err, &coded) || coded.Code != ecode.CodeCacheKey {
		t.Errorf("expected cache key error code, got %v", err)
	}

	if _, ok := c.Get("vision", map[string]any{"fn": func() {}}); ok {
		t.Error("expected unserializable key data to read as a miss")
	}
	stats := c.GetStats()
	if stats.TotalMisses != 1 {
		t.Errorf("expected the failed get counted as a miss, got %d", stats.TotalMisses)
	}
}

func TestExpiry(t *testing.T) {
	c := New(nil)

	keyData := map[string]any{"image": "abc"}
	if _, err := c.Put("vision", keyData, "v", &PutOptions{TTL: 20 * time.Millisecond}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if _, ok := c.Get("vision", keyData); !ok {
		t.Fatal("expected a hit before expiry")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("vision", keyData); ok {
		t.Fatal("expected a miss after expiry")
	}
	stats := c.GetStats()
	if stats.ExpiredRemovals != 1 {
		t.Errorf("expected 1 expired removal, got %d", stats.ExpiredRemovals)
	}
	if stats.Size != 0 {
		t.Errorf("expected expired entry removed, size %d", stats.Size)
	}
}

func TestNamespaceTTLOverride(t *testing.T) {
	c := New(&Config{
		MaxSize:       10,
		DefaultTTL:    time.Hour,
		NamespaceTTLs: map[string]time.Duration{"volatile": 20 * time.Millisecond},
	})

	c.Put("volatile", "k", "v", nil)
	c.Put("stable", "k", "v", nil)

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("volatile", "k"); ok {
		t.Error("expected namespace TTL override to expire the entry")
	}
	if _, ok := c.Get("stable", "k"); !ok {
		t.Error("expected default TTL entry to survive")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(&Config{MaxSize: 3, DefaultTTL: time.Hour})

	c.Put("ns", "a", 1, nil)
	c.Put("ns", "b", 2, nil)
	c.Put("ns", "c", 3, nil)

	// touch a and c so b is the least recently used
	c.Get("ns", "a")
	c.Get("ns", "c")

	c.Put("ns", "d", 4, nil)

	if _, ok := c.Get("ns", "b"); ok {
		t.Error("expected least recently used entry evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get("ns", k); !ok {
			t.Errorf("expected entry %s to survive eviction", k)
		}
	}

	stats := c.GetStats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 3 {
		t.Errorf("expected size pinned at max, got %d", stats.Size)
	}
}

func TestOverwriteReplacesTags(t *testing.T) {
	c := New(nil)
	keyData := map[string]any{"image": "abc"}

	c.Put("vision", keyData, "v1", &PutOptions{Tags: []string{"user:alice"}})
	c.Put("vision", keyData, "v2", &PutOptions{Tags: []string{"user:bob"}})

	if got := len(c.EntriesByTag("user:alice")); got != 0 {
		t.Errorf("expected alice's tag released on overwrite, got %d entries", got)
	}
	if removed := c.InvalidateByTag("user:alice"); removed != 0 {
		t.Errorf("expected stale tag to remove nothing, got %d", removed)
	}
	if value, ok := c.Get("vision", keyData); !ok || value != "v2" {
		t.Fatalf("expected overwritten value to survive, got %v (%v)", value, ok)
	}
	if removed := c.InvalidateByTag("user:bob"); removed != 1 {
		t.Errorf("expected current tag to remove the entry, got %d", removed)
	}
}

func TestEvictionTieBreaksByInsertionOrder(t *testing.T) {
	c := New(&Config{MaxSize: 3, DefaultTTL: time.Hour})

	// none of these are ever read, so LastAccessed stays zero for all
	for _, k := range []string{"a", "b", "c"} {
		c.Put("ns", k, k, nil)
		time.Sleep(time.Millisecond)
	}
	c.Put("ns", "d", "d", nil)

	if _, ok := c.Get("ns", "a"); ok {
		t.Error("expected the oldest never-accessed entry evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get("ns", k); !ok {
			t.Errorf("expected entry %s to survive eviction", k)
		}
	}
}

func TestEvictionPrefersNeverAccessed(t *testing.T) {
	c := New(&Config{MaxSize: 2, DefaultTTL: time.Hour})

	c.Put("ns", "old", 1, nil)
	time.Sleep(time.Millisecond)
	c.Put("ns", "young", 2, nil)
	c.Get("ns", "old") // old is accessed, young never is

	c.Put("ns", "new", 3, nil)

	if _, ok := c.Get("ns", "young"); ok {
		t.Error("expected the never-accessed entry evicted before the accessed one")
	}
	if _, ok := c.Get("ns", "old"); !ok {
		t.Error("expected the accessed entry to survive")
	}
}

func TestEvictionPrefersExpired(t *testing.T) {
	c := New(&Config{MaxSize: 2, DefaultTTL: time.Hour})

	c.Put("ns", "short", 1, &PutOptions{TTL: 10 * time.Millisecond})
	c.Put("ns", "live", 2, nil)
	c.Get("ns", "short") // most recently accessed, but about to expire

	time.Sleep(20 * time.Millisecond)
	c.Put("ns", "new", 3, nil)

	if _, ok := c.Get("ns", "live"); !ok {
		t.Error("expected live entry kept while expired entry was purged")
	}
	if _, ok := c.Get("ns", "new"); !ok {
		t.Error("expected new entry present")
	}
	stats := c.GetStats()
	if stats.Evictions != 0 {
		t.Errorf("expected purge to count as expiry, not eviction, got %d evictions", stats.Evictions)
	}
}

func TestInvalidate(t *testing.T) {
	c := New(nil)
	keyData := map[string]any{"image": "abc"}
	c.Put("vision", keyData, "v", nil)

	if !c.Invalidate("vision", keyData) {
		t.Error("expected invalidate to report removal")
	}
	if c.Invalidate("vision", keyData) {
		t.Error("expected second invalidate to report nothing removed")
	}
	if _, ok := c.Get("vision", keyData); ok {
		t.Error("expected a miss after invalidation")
	}
}

func TestInvalidateByTag(t *testing.T) {
	c := New(nil)
	c.Put("vision", "a", 1, &PutOptions{Tags: []string{"user:alice", "model:v2"}})
	c.Put("vision", "b", 2, &PutOptions{Tags: []string{"user:alice"}})
	c.Put("vision", "c", 3, &PutOptions{Tags: []string{"user:bob"}})

	if got := len(c.EntriesByTag("user:alice")); got != 2 {
		t.Errorf("expected 2 entries tagged alice, got %d", got)
	}

	if removed := c.InvalidateByTag("user:alice"); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if removed := c.InvalidateByTag("user:alice"); removed != 0 {
		t.Errorf("expected 0 removed on repeat, got %d", removed)
	}
	if _, ok := c.Get("vision", "c"); !ok {
		t.Error("expected bob's entry to survive")
	}

	stats := c.GetStats()
	if stats.TagsCount != 1 {
		t.Errorf("expected only user:bob tag left, got %d tags", stats.TagsCount)
	}
}

func TestInvalidateNamespace(t *testing.T) {
	c := New(nil)
	c.Put("vision", "a", 1, nil)
	c.Put("vision", "b", 2, nil)
	c.Put("market", "a", 3, nil)

	if removed := c.InvalidateNamespace("vision"); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, ok := c.Get("market", "a"); !ok {
		t.Error("expected other namespace untouched")
	}
}

func TestCleanupExpired(t *testing.T) {
	c := New(nil)
	c.Put("ns", "short", 1, &PutOptions{TTL: 10 * time.Millisecond})
	c.Put("ns", "long", 2, nil)

	time.Sleep(20 * time.Millisecond)

	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if removed := c.CleanupExpired(); removed != 0 {
		t.Errorf("expected 0 removed on repeat, got %d", removed)
	}
}

func TestClearResetsStats(t *testing.T) {
	c := New(nil)
	c.Put("ns", "a", 1, nil)
	c.Get("ns", "a")
	c.Get("ns", "missing")

	c.Clear()

	stats := c.GetStats()
	if stats.Size != 0 || stats.TotalHits != 0 || stats.TotalMisses != 0 {
		t.Errorf("expected zeroed stats after clear, got %+v", stats)
	}
}

func TestStats(t *testing.T) {
	c := New(nil)
	c.Put("ns", "a", "value", nil)
	c.Get("ns", "a")
	c.Get("ns", "a")
	c.Get("ns", "missing")

	stats := c.GetStats()
	if stats.TotalHits != 2 || stats.TotalMisses != 1 {
		t.Errorf("expected 2 hits 1 miss, got %d/%d", stats.TotalHits, stats.TotalMisses)
	}
	want := float64(2) / 3 * 100
	if stats.HitRatePercent < want-0.01 || stats.HitRatePercent > want+0.01 {
		t.Errorf("expected hit rate around %.2f, got %.2f", want, stats.HitRatePercent)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Error("expected a positive size estimate")
	}
}
