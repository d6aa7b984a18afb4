package share

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

// DefaultMemoTTL is how long a loaded snippet is served from memory.
const DefaultMemoTTL = 10 * time.Minute

// Memo caches snippets in front of another Store. Snippets are immutable,
// so entries only expire to bound memory.
type Memo struct {
	next  Store
	cache *gocache.Cache
}

// NewMemo wraps next. A zero ttl uses DefaultMemoTTL.
func NewMemo(next Store, ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	return &Memo{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (m *Memo) Create(ctx context.Context, code, language string) (models.Snippet, error) {
	sn, err := m.next.Create(ctx, code, language)
	if err != nil {
		return sn, err
	}
	m.cache.SetDefault(sn.ID, sn)
	return sn, nil
}

func (m *Memo) Get(ctx context.Context, id string) (models.Snippet, error) {
	if v, ok := m.cache.Get(id); ok {
		return v.(models.Snippet), nil
	}
	sn, err := m.next.Get(ctx, id)
	if err != nil {
		return sn, err
	}
	m.cache.SetDefault(id, sn)
	return sn, nil
}

func (m *Memo) Close() error {
	m.cache.Flush()
	return m.next.Close()
}
