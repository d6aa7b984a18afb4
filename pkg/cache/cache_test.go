package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type countingNotifier struct {
	mu     sync.Mutex
	hits   int
	tokens int
}

func (n *countingNotifier) CacheHit(tokens int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hits++
	n.tokens += tokens
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCache(t *testing.T, st store.Store, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(quietLogger())}, opts...)
	return New(context.Background(), st, opts...)
}

func conversation(prompt string) []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: "You are a kid-friendly web development AI."},
		{Role: models.RoleUser, Content: prompt},
	}
}

func TestKeyDeterministic(t *testing.T) {
	msgs := conversation("Create a counting game")
	assert.Equal(t, Key(msgs), Key(msgs))

	rebuilt := append([]models.Message{}, msgs[0])
	rebuilt = append(rebuilt, models.Message{Role: "user", Content: "Create a " + "counting game"})
	assert.Equal(t, Key(msgs), Key(rebuilt))
}

func TestKeyIgnoresExtraFields(t *testing.T) {
	var withExtras []models.Message
	err := json.Unmarshal([]byte(`[
		{"role":"system","content":"You are a kid-friendly web development AI.","name":"sys","id":7},
		{"role":"user","content":"Create a counting game","timestamp":12345}
	]`), &withExtras)
	require.NoError(t, err)
	assert.Equal(t, Key(conversation("Create a counting game")), Key(withExtras))
}

func TestKeyDistinguishesHistories(t *testing.T) {
	a := conversation("make a quiz")
	b := conversation("make a quiz ")
	c := []models.Message{{Role: models.RoleAssistant, Content: "make a quiz"}}
	assert.NotEqual(t, Key(a), Key(b), "content is not trimmed")
	assert.NotEqual(t, Key(a[1:]), Key(c), "role is part of the key")
}

func TestKeyInvalidUTF8(t *testing.T) {
	a := conversation("make a game \xff")
	b := conversation("make a game \xfe")
	replaced := conversation("make a game \uFFFD")
	assert.NotEqual(t, Key(a), Key(b))
	assert.NotEqual(t, Key(a), Key(replaced))
	assert.Equal(t, Key(a), Key(conversation("make a game \xff")))
	assert.NotContains(t, Key(conversation("make a game")), "raw", "valid content keeps the plain format")

	c := newTestCache(t, store.NewMemory(), newClock())
	ctx := context.Background()
	c.Set(ctx, a, "RESPONSE-A")
	_, ok := c.Get(ctx, b)
	assert.False(t, ok)
	got, ok := c.Get(ctx, a)
	require.True(t, ok)
	assert.Equal(t, "RESPONSE-A", got)
}

func TestKeyEncoding(t *testing.T) {
	key := Key([]models.Message{{Role: models.RoleUser, Content: "<b>héllo 🌟</b>"}})
	assert.Equal(t,
		"%5B%7B%22role%22%3A%22user%22%2C%22content%22%3A%22%3Cb%3Eh%C3%A9llo%20%F0%9F%8C%9F%3C%2Fb%3E%22%7D%5D",
		key)
	assert.Equal(t, "%5B%5D", Key(nil))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	// The emoji is two UTF-16 code units.
	assert.Equal(t, 1, EstimateTokens("ab🌟"))
}

func TestRoundTrip(t *testing.T) {
	clock := newClock()
	c := newTestCache(t, store.NewMemory(), clock)
	ctx := context.Background()
	msgs := conversation("Create a counting game")

	_, ok := c.Get(ctx, msgs)
	require.False(t, ok)

	c.Set(ctx, msgs, "<!DOCTYPE html><html></html>")
	got, ok := c.Get(ctx, msgs)
	require.True(t, ok)
	assert.Equal(t, "<!DOCTYPE html><html></html>", got)

	c.Set(ctx, msgs, "second")
	got, _ = c.Get(ctx, msgs)
	assert.Equal(t, "second", got, "last write wins")
}

func TestAgeEviction(t *testing.T) {
	clock := newClock()
	c := newTestCache(t, store.NewMemory(), clock)
	ctx := context.Background()
	msgs := conversation("make a maze game")

	c.Set(ctx, msgs, "maze")
	clock.Advance(DefaultMaxAge)
	_, ok := c.Get(ctx, msgs)
	assert.True(t, ok, "an entry exactly max age old is still served")

	clock.Advance(time.Millisecond)
	_, ok = c.Get(ctx, msgs)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "get does not evict")

	assert.Equal(t, 1, c.Cleanup(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestCapacityEviction(t *testing.T) {
	clock := newClock()
	const limit, extra = 10, 4
	c := newTestCache(t, store.NewMemory(), clock, WithMaxEntries(limit))
	ctx := context.Background()

	for i := 0; i < limit+extra; i++ {
		c.Set(ctx, conversation(fmt.Sprintf("game %d", i)), fmt.Sprintf("code %d", i))
		clock.Advance(time.Second)
	}
	require.Equal(t, limit, c.Len())

	for i := 0; i < extra; i++ {
		_, ok := c.Get(ctx, conversation(fmt.Sprintf("game %d", i)))
		assert.False(t, ok, "oldest entry %d should be evicted", i)
	}
	for i := extra; i < limit+extra; i++ {
		got, ok := c.Get(ctx, conversation(fmt.Sprintf("game %d", i)))
		assert.True(t, ok, "recent entry %d should survive", i)
		assert.Equal(t, fmt.Sprintf("code %d", i), got)
	}
}

func TestCleanupRemovesExpiredBeforeCapacity(t *testing.T) {
	clock := newClock()
	c := newTestCache(t, store.NewMemory(), clock, WithMaxEntries(3), WithMaxAge(time.Hour))
	ctx := context.Background()

	c.Set(ctx, conversation("old"), "old")
	clock.Advance(2 * time.Hour)
	c.Set(ctx, conversation("a"), "a")
	c.Set(ctx, conversation("b"), "b")
	c.Set(ctx, conversation("c"), "c")

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get(ctx, conversation("a"))
	assert.True(t, ok)
}

func TestStatsMonotonicAndClear(t *testing.T) {
	clock := newClock()
	n := &countingNotifier{}
	c := newTestCache(t, store.NewMemory(), clock, WithNotifier(n))
	ctx := context.Background()
	msgs := conversation("build a piano")

	c.Get(ctx, msgs)
	c.Set(ctx, msgs, strings.Repeat("x", 40))
	c.Get(ctx, msgs)
	c.Get(ctx, msgs)

	stats := c.Stats()
	assert.Equal(t, models.CacheStats{Hits: 2, Misses: 1, TotalTokensSaved: 20}, stats)
	assert.Equal(t, 2, n.hits)
	assert.Equal(t, 20, n.tokens)

	c.Clear(ctx)
	assert.Equal(t, models.CacheStats{}, c.Stats())
	assert.Equal(t, 0, c.Len())

	c.Get(ctx, msgs)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestPersistenceAcrossInstances(t *testing.T) {
	clock := newClock()
	st := store.NewFile(t.TempDir())
	ctx := context.Background()
	msgs := conversation("Create a counting game")

	first := newTestCache(t, st, clock)
	first.Set(ctx, msgs, "counting")
	first.Get(ctx, msgs)

	second := newTestCache(t, st, clock)
	got, ok := second.Get(ctx, msgs)
	require.True(t, ok)
	assert.Equal(t, "counting", got)
	assert.Equal(t, int64(2), second.Stats().Hits)
}

func TestPersistedFormat(t *testing.T) {
	clock := newClock()
	st := store.NewMemory()
	ctx := context.Background()
	c := newTestCache(t, st, clock)
	c.Set(ctx, conversation("quiz"), "abcdefgh")

	data, err := st.Get(ctx, EntriesKey)
	require.NoError(t, err)

	var raw [][]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	require.Len(t, raw[0], 2)

	var entry models.CacheEntry
	require.NoError(t, json.Unmarshal(raw[0][1], &entry))
	assert.Equal(t, models.CacheEntry{Response: "abcdefgh", Timestamp: clock.Now().UnixMilli(), Tokens: 2}, entry)
}

func TestLoadEvictsStaleSnapshot(t *testing.T) {
	clock := newClock()
	st := store.NewMemory()
	ctx := context.Background()

	old := newTestCache(t, st, clock, WithMaxAge(7*24*time.Hour))
	old.Set(ctx, conversation("week old"), "stale")
	clock.Advance(48 * time.Hour)
	old.Set(ctx, conversation("fresh"), "fresh")

	c := newTestCache(t, st, clock)
	assert.Equal(t, 1, c.Len())

	data, err := st.Get(ctx, EntriesKey)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale", "the eviction pass is persisted")
}

func TestCorruptStorageTreatedAsEmpty(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, EntriesKey, []byte(`{not json`)))
	require.NoError(t, st.Set(ctx, StatsKey, []byte(`[1,2,3]`)))

	c := newTestCache(t, st, newClock())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, models.CacheStats{}, c.Stats())
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk on fire") }
func (brokenStore) Set(context.Context, string, []byte) error   { return errors.New("disk on fire") }
func (brokenStore) Delete(context.Context, string) error        { return errors.New("disk on fire") }
func (brokenStore) Close() error                                { return nil }

func TestStorageFailuresAreAbsorbed(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := newTestCache(t, brokenStore{}, newClock(), WithLogger(logger))
	ctx := context.Background()
	msgs := conversation("draw a rainbow")

	c.Set(ctx, msgs, "rainbow")
	got, ok := c.Get(ctx, msgs)
	require.True(t, ok, "the cache keeps working in memory")
	assert.Equal(t, "rainbow", got)
	c.Clear(ctx)
	assert.Equal(t, 0, c.Len())

	require.NotEmpty(t, hook.AllEntries())
	for _, entry := range hook.AllEntries() {
		err, _ := entry.Data[logrus.ErrorKey].(error)
		assert.Equal(t, apperr.KindStorage, apperr.KindOf(err), entry.Message)
	}
}
