// Package cache implements a namespaced, tag-indexed result cache with TTL
// expiry and approximate-LRU eviction under a size cap. It memoizes
// expensive pipeline outputs; every failure degrades to a miss or a no-op so
// the cache never fails its caller.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/appraisio/acore/logger"
)

// defaultSizeEstimate is used when a value cannot be serialized for sizing.
const defaultSizeEstimate = 100

// Config represents cache configuration
type Config struct {
	MaxSize       int                      // maximum number of entries
	DefaultTTL    time.Duration            // TTL applied when none is given
	NamespaceTTLs map[string]time.Duration // per-namespace TTL overrides
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    1000,
		DefaultTTL: time.Hour,
	}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.MaxSize < 1 {
		return errors.New("max size must be greater than 0")
	}
	if cfg.DefaultTTL <= 0 {
		return errors.New("default ttl must be greater than 0")
	}
	return nil
}

// Entry is a cached value with bookkeeping metadata.
type Entry struct {
	Key          string
	Value        any
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
	SizeBytes    int64
	Tags         []string
	Metadata     map[string]any
}

// IsExpired reports whether the entry is past its TTL.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

func (e *Entry) access() {
	e.AccessCount++
	e.LastAccessed = time.Now()
}

// PutOptions carries optional Put parameters.
type PutOptions struct {
	TTL      time.Duration
	Tags     []string
	Metadata map[string]any
}

// Stats is a point-in-time cache statistics snapshot.
type Stats struct {
	Size            int     `json:"size"`
	MaxSize         int     `json:"max_size"`
	HitRatePercent  float64 `json:"hit_rate_percent"`
	TotalHits       int64   `json:"total_hits"`
	TotalMisses     int64   `json:"total_misses"`
	Evictions       int64   `json:"evictions"`
	ExpiredRemovals int64   `json:"expired_removals"`
	TotalSizeBytes  int64   `json:"total_size_bytes"`
	TagsCount       int     `json:"tags_count"`
}

// Cache is an in-memory result cache. All methods are safe for concurrent
// use; a single mutex guards the maps since every operation is short.
type Cache struct {
	cfg      *Config
	entries  map[string]*Entry
	tagIndex map[string]map[string]struct{}
	mu       sync.Mutex

	hits            int64
	misses          int64
	evictions       int64
	expiredRemovals int64
}

// New creates a new result cache.
func New(cfg *Config) *Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Cache{
		cfg:      cfg,
		entries:  make(map[string]*Entry),
		tagIndex: make(map[string]map[string]struct{}),
	}
}

// ttlFor resolves the TTL for a namespace.
func (c *Cache) ttlFor(namespace string, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if ttl, ok := c.cfg.NamespaceTTLs[namespace]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Put stores a value under the canonicalized key of keyData and returns the
// key. Canonicalization failure is the only error.
func (c *Cache) Put(namespace string, keyData, value any, opts *PutOptions) (string, error) {
	key, err := buildKey(namespace, keyData)
	if err != nil {
		return "", err
	}

	if opts == nil {
		opts = &PutOptions{}
	}
	ttl := c.ttlFor(namespace, opts.TTL)

	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: estimateSize(value),
		Tags:      opts.Tags,
		Metadata:  opts.Metadata,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// drop a previous entry's tag references before installing the new one
	c.removeEntry(key)

	c.entries[key] = entry
	for _, tag := range entry.Tags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][key] = struct{}{}
	}

	c.evictIfNeeded()

	logger.Debug(context.Background(), "cached value", "key", key)
	return key, nil
}

// Get retrieves the value for keyData. Expired entries count as misses and
// are removed on the spot.
func (c *Cache) Get(namespace string, keyData any) (any, bool) {
	key, err := buildKey(namespace, keyData)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	return c.GetByKey(key)
}

// GetByKey retrieves a value by exact key.
func (c *Cache) GetByKey(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if entry.IsExpired() {
		c.removeEntry(key)
		c.misses++
		c.expiredRemovals++
		return nil, false
	}

	entry.access()
	c.hits++
	return entry.Value, true
}

// Invalidate removes the entry for keyData, reporting whether one existed.
func (c *Cache) Invalidate(namespace string, keyData any) bool {
	key, err := buildKey(namespace, keyData)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeEntry(key)
	return true
}

// InvalidateByTag removes all entries carrying tag and returns the count.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.tagIndex[tag]
	if !ok {
		return 0
	}

	count := 0
	for key := range keys {
		if _, exists := c.entries[key]; exists {
			c.removeEntry(key)
			count++
		}
	}
	return count
}

// InvalidateNamespace removes all entries in a namespace and returns the
// count.
func (c *Cache) InvalidateNamespace(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := namespace + ":"
	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeEntry(key)
			count++
		}
	}
	return count
}

// CleanupExpired removes all entries past their TTL and returns the count.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			c.removeEntry(key)
			c.expiredRemovals++
			count++
		}
	}
	return count
}

// EntriesByTag returns copies of all live entries carrying tag.
func (c *Cache) EntriesByTag(tag string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []Entry
	for key := range c.tagIndex[tag] {
		if entry, ok := c.entries[key]; ok {
			entries = append(entries, *entry)
		}
	}
	return entries
}

// Clear removes all entries and resets statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.tagIndex = make(map[string]map[string]struct{})
	c.hits, c.misses, c.evictions, c.expiredRemovals = 0, 0, 0, 0
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	var totalBytes int64
	for _, entry := range c.entries {
		totalBytes += entry.SizeBytes
	}

	return Stats{
		Size:            len(c.entries),
		MaxSize:         c.cfg.MaxSize,
		HitRatePercent:  hitRate,
		TotalHits:       c.hits,
		TotalMisses:     c.misses,
		Evictions:       c.evictions,
		ExpiredRemovals: c.expiredRemovals,
		TotalSizeBytes:  totalBytes,
		TagsCount:       len(c.tagIndex),
	}
}

// removeEntry removes an entry and its tag index references. Caller holds
// the lock.
func (c *Cache) removeEntry(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}

	for _, tag := range entry.Tags {
		if keys, exists := c.tagIndex[tag]; exists {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}

	delete(c.entries, key)
}

// evictIfNeeded purges expired entries first, then the oldest last-accessed
// entries (never-accessed treated as oldest) until under capacity. Caller
// holds the lock.
func (c *Cache) evictIfNeeded() {
	if len(c.entries) <= c.cfg.MaxSize {
		return
	}

	for key, entry := range c.entries {
		if entry.IsExpired() {
			c.removeEntry(key)
			c.expiredRemovals++
		}
	}

	if len(c.entries) <= c.cfg.MaxSize {
		return
	}

	type candidate struct {
		key      string
		accessed time.Time
		touched  bool
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, entry := range c.entries {
		// never-accessed entries stay oldest overall, tie-broken by
		// insertion time so a fresh insert does not evict itself over
		// an older untouched entry
		cand := candidate{key: key, accessed: entry.LastAccessed, touched: !entry.LastAccessed.IsZero()}
		if !cand.touched {
			cand.accessed = entry.CreatedAt
		}
		candidates = append(candidates, cand)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.touched != b.touched {
			return !a.touched
		}
		return a.accessed.Before(b.accessed)
	})

	excess := len(c.entries) - c.cfg.MaxSize
	for _, victim := range candidates[:excess] {
		c.removeEntry(victim.key)
		c.evictions++
	}
}

// estimateSize approximates a value's footprint via its JSON encoding,
// compressing above 1KB so large repetitive payloads are not overcounted.
func estimateSize(value any) int64 {
	raw, err := json.Marshal(value)
	if err != nil {
		return defaultSizeEstimate
	}
	if len(raw) <= 1024 {
		return int64(len(raw))
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return int64(len(raw))
	}
	if err := zw.Close(); err != nil {
		return int64(len(raw))
	}
	return int64(buf.Len())
}
