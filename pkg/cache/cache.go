// Package cache implements the response cache that sits between the
// coordinator and the AI providers. Identical conversations are answered from
// the cache; entries persist through a store.Store and are evicted by age and
// by count.
package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

// Storage keys, kept compatible with the browser client's local storage.
const (
	EntriesKey = "ai_response_cache"
	StatsKey   = "ai_cache_stats"
)

const (
	DefaultMaxAge     = 24 * time.Hour
	DefaultMaxEntries = 1000
)

// Notifier receives cache hit notifications. Implementations must not block.
type Notifier interface {
	CacheHit(tokensSaved int)
}

// Cache is a content-addressed response cache.
type Cache struct {
	mu         sync.Mutex
	store      store.Store
	entries    map[string]models.CacheEntry
	stats      models.CacheStats
	maxAge     time.Duration
	maxEntries int
	now        func() time.Time
	notifier   Notifier
	log        logrus.FieldLogger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge overrides the 24h entry lifetime.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithMaxEntries overrides the 1000 entry limit.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithNotifier registers a hit notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

// WithLogger sets the logger used for absorbed storage failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.log = l }
}

// New loads the persisted snapshot from st and runs an eviction pass over it.
// A nil st gives an in-memory cache.
func New(ctx context.Context, st store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:      st,
		entries:    make(map[string]models.CacheEntry),
		maxAge:     DefaultMaxAge,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.NewMemory()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = c.loadStats(ctx)
	c.entries = c.loadEntries(ctx)
	if c.cleanupLocked() > 0 {
		c.saveEntries(ctx)
	}
	cacheEntries.Set(float64(len(c.entries)))
	return c
}

// Key derives the cache key for a message sequence: the {role, content}
// projection serialized as JSON, then percent-encoded. JSON replaces invalid
// UTF-8 with U+FFFD, so content that is not valid UTF-8 also carries its raw
// bytes in hex to keep distinct inputs on distinct keys.
func Key(messages []models.Message) string {
	type projected struct {
		Role    models.Role `json:"role"`
		Content string      `json:"content"`
		Raw     string      `json:"raw,omitempty"`
	}
	proj := make([]projected, 0, len(messages))
	for _, m := range messages {
		p := projected{Role: m.Role, Content: m.Content}
		if !utf8.ValidString(m.Content) {
			p.Raw = hex.EncodeToString([]byte(m.Content))
		}
		proj = append(proj, p)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a slice of plain structs cannot fail.
	_ = enc.Encode(proj)
	return encodeURIComponent(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// EstimateTokens approximates a token count as ceil(chars/4), counting
// characters as UTF-16 code units. It is only used for cache statistics.
func EstimateTokens(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return (n + 3) / 4
}

// Get returns the cached response for messages if it is younger than the
// max age.
func (c *Cache) Get(ctx context.Context, messages []models.Message) (string, bool) {
	key := Key(messages)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok || c.now().UnixMilli()-entry.Timestamp > c.maxAge.Milliseconds() {
		c.stats.Misses++
		c.saveStats(ctx)
		c.mu.Unlock()
		cacheMisses.Inc()
		return "", false
	}
	c.stats.Hits++
	c.stats.TotalTokensSaved += int64(entry.Tokens)
	c.saveStats(ctx)
	c.mu.Unlock()

	cacheHits.Inc()
	cacheTokensSaved.Add(float64(entry.Tokens))
	if c.notifier != nil {
		c.notifier.CacheHit(entry.Tokens)
	}
	return entry.Response, true
}

// Set stores response for messages, replacing any previous entry.
func (c *Cache) Set(ctx context.Context, messages []models.Message, response string) {
	key := Key(messages)
	entry := models.CacheEntry{
		Response:  response,
		Timestamp: c.now().UnixMilli(),
		Tokens:    EstimateTokens(response),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	if len(c.entries) > c.maxEntries {
		c.cleanupLocked()
	}
	c.saveEntries(ctx)
	cacheEntries.Set(float64(len(c.entries)))
}

// Cleanup evicts expired entries and then the oldest entries above the
// limit. It returns the number of entries removed.
func (c *Cache) Cleanup(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.cleanupLocked()
	if removed > 0 {
		c.saveEntries(ctx)
	}
	cacheEntries.Set(float64(len(c.entries)))
	return removed
}

// Clear drops every entry and resets the statistics.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]models.CacheEntry)
	c.stats = models.CacheStats{}
	if err := c.store.Delete(ctx, EntriesKey); err != nil {
		c.storageFailed("clear cache", err)
	}
	c.saveStats(ctx)
	cacheEntries.Set(0)
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) cleanupLocked() int {
	cutoff := c.now().UnixMilli() - c.maxAge.Milliseconds()
	removed := 0
	for key, entry := range c.entries {
		if entry.Timestamp < cutoff {
			delete(c.entries, key)
			removed++
		}
	}

	if over := len(c.entries) - c.maxEntries; over > 0 {
		for _, p := range c.sortedLocked()[:over] {
			delete(c.entries, p.Key)
			removed++
		}
	}

	if removed > 0 {
		cacheEvictions.Add(float64(removed))
	}
	return removed
}

// sortedLocked returns the entries oldest first, ties broken by key.
func (c *Cache) sortedLocked() []pair {
	pairs := make([]pair, 0, len(c.entries))
	for k, e := range c.entries {
		pairs = append(pairs, pair{Key: k, Entry: e})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Entry.Timestamp != pairs[j].Entry.Timestamp {
			return pairs[i].Entry.Timestamp < pairs[j].Entry.Timestamp
		}
		return pairs[i].Key < pairs[j].Key
	})
	return pairs
}

func (c *Cache) loadStats(ctx context.Context) models.CacheStats {
	var stats models.CacheStats
	data, err := c.store.Get(ctx, StatsKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.storageFailed("load cache stats", err)
		}
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		c.log.WithError(apperr.Storage("decode cache stats", err)).Warn("corrupt cache stats, starting from zero")
		return models.CacheStats{}
	}
	return stats
}

func (c *Cache) loadEntries(ctx context.Context) map[string]models.CacheEntry {
	entries := make(map[string]models.CacheEntry)
	data, err := c.store.Get(ctx, EntriesKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.storageFailed("load cache", err)
		}
		return entries
	}
	var pairs []pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		c.log.WithError(apperr.Storage("decode cache", err)).Warn("corrupt cache in storage, starting empty")
		return entries
	}
	for _, p := range pairs {
		entries[p.Key] = p.Entry
	}
	return entries
}

func (c *Cache) saveStats(ctx context.Context) {
	data, err := json.Marshal(c.stats)
	if err == nil {
		err = c.store.Set(ctx, StatsKey, data)
	}
	if err != nil {
		c.storageFailed("save cache stats", err)
	}
}

func (c *Cache) saveEntries(ctx context.Context) {
	data, err := json.Marshal(c.sortedLocked())
	if err == nil {
		err = c.store.Set(ctx, EntriesKey, data)
	}
	if err != nil {
		c.storageFailed("save cache", err)
	}
}

// storageFailed logs a persistence failure. The in-memory cache keeps serving.
func (c *Cache) storageFailed(op string, err error) {
	c.log.WithError(apperr.Storage(op, err)).Warn("cache storage failure")
}

// pair is the persisted form of one entry: a two element JSON array
// [key, entry].
type pair struct {
	Key   string
	Entry models.CacheEntry
}

func (p pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Key, p.Entry})
}

func (p *pair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("cache pair has %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Entry)
}
