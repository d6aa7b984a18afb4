package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/config"
	"github.com/kidcode-ai/kidcode/pkg/provider"
	"github.com/kidcode-ai/kidcode/pkg/share"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

type stubBackend struct {
	calls atomic.Int32
	reply func(ctx context.Context, call provider.Call) (string, error)
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Complete(ctx context.Context, call provider.Call) (string, error) {
	b.calls.Add(1)
	if call.OnDelta != nil {
		call.OnDelta("x")
	}
	return b.reply(ctx, call)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupServer(t *testing.T, reply func(context.Context, provider.Call) (string, error)) (*Server, *stubBackend) {
	t.Helper()
	return setupServerWith(t, reply, nil)
}

func setupServerWith(t *testing.T, reply func(context.Context, provider.Call) (string, error), mutate func(*config.Config)) (*Server, *stubBackend) {
	t.Helper()
	log := quietLogger()
	backend := &stubBackend{reply: reply}
	c := cache.New(context.Background(), store.NewMemory(), cache.WithLogger(log))
	engine := provider.New(backend, provider.WithCache(c), provider.WithLimiter(nil), provider.WithLogger(log))

	cfg := config.Default()
	cfg.Share.DBPath = filepath.Join(t.TempDir(), "share.db")
	cfg.Share.Origin = "https://kidcode.example"
	if mutate != nil {
		mutate(cfg)
	}
	shares, err := share.Open(context.Background(), cfg.Share, nil)
	require.NoError(t, err)
	t.Cleanup(func() { shares.Close() })

	return New(cfg, engine, c, shares, nil, log), backend
}

func fixedReply(code string) func(context.Context, provider.Call) (string, error) {
	return func(context.Context, provider.Call) (string, error) { return code, nil }
}

func do(t *testing.T, srv *Server, method, path, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestGenerate(t *testing.T) {
	srv, backend := setupServer(t, fixedReply("```html\n<h1>Hi</h1>\n<!-- unused -->\n```"))

	w := do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"make a heading"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := w.Body.String()
	assert.Equal(t, "completed", gjson.Get(body, "status").String())
	assert.Equal(t, "<h1>Hi</h1>\n<!-- unused -->", gjson.Get(body, "code").String())
	assert.False(t, gjson.Get(body, "cached").Bool())
	assert.Equal(t, int64(2), gjson.Get(body, "messages.#").Int())
	assert.Equal(t, "make a heading", gjson.Get(body, "messages.0.content").String())
	assert.Equal(t, int32(1), backend.calls.Load())

	w = do(t, srv, http.MethodGet, "/api/editor", "", "")
	assert.Equal(t, "<h1>Hi</h1>\n<!-- unused -->", gjson.Get(w.Body.String(), "code").String())
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	srv, backend := setupServer(t, fixedReply("<p></p>"))

	w := do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"   "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", gjson.Get(w.Body.String(), "status").String())
	assert.Zero(t, backend.calls.Load())
}

func TestGenerateContentPolicy(t *testing.T) {
	srv, backend := setupServer(t, fixedReply("<p></p>"))

	w := do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"how do I hack my school"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Equal(t, "content_policy_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Equal(t, int64(http.StatusUnprocessableEntity), gjson.Get(w.Body.String(), "error.code").Int())
	assert.Zero(t, backend.calls.Load())
}

func TestProviderErrorEnvelope(t *testing.T) {
	srv, _ := setupServer(t, func(context.Context, provider.Call) (string, error) {
		return "", apperr.RateLimit("stub", 0)
	})

	w := do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"make a game"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestDebugAndImprove(t *testing.T) {
	var lastUser string
	srv, _ := setupServer(t, func(_ context.Context, call provider.Call) (string, error) {
		lastUser = call.Messages[len(call.Messages)-1].Content
		return "<p>fixed</p>\n/* FIX: closed the tag */", nil
	})

	w := do(t, srv, http.MethodPost, "/api/debug", "kid", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", gjson.Get(w.Body.String(), "status").String())

	w = do(t, srv, http.MethodPost, "/api/debug", "kid", `{"code":"<p>broken"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	assert.Equal(t, "completed", gjson.Get(body, "status").String())
	assert.Equal(t, "debug", gjson.Get(body, "slot").String())
	assert.Equal(t, "closed the tag", gjson.Get(body, "notes.0").String())
	assert.Contains(t, lastUser, "CURRENT CODE:\n<p>broken")

	w = do(t, srv, http.MethodPost, "/api/improve", "kid", `{"instruction":"make it blue"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "improve", gjson.Get(w.Body.String(), "slot").String())
	assert.True(t, strings.HasPrefix(lastUser, "make it blue"))
}

func TestWorkspacesAreIsolated(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p>a</p>"))

	do(t, srv, http.MethodPost, "/api/generate", "alice", `{"prompt":"make a paragraph"}`)

	w := do(t, srv, http.MethodGet, "/api/session", "alice", "")
	assert.Equal(t, int64(2), gjson.Get(w.Body.String(), "messages.#").Int())
	assert.Equal(t, "idle", gjson.Get(w.Body.String(), "states.prompt").String())

	w = do(t, srv, http.MethodGet, "/api/session", "bob", "")
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "messages.#").Int())

	w = do(t, srv, http.MethodDelete, "/api/session", "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodGet, "/api/session", "alice", "")
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "messages.#").Int())
	assert.Equal(t, "", gjson.Get(w.Body.String(), "code").String())
}

func TestCancel(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p></p>"))

	w := do(t, srv, http.MethodPost, "/api/cancel/debug", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "cancelled").Bool())

	w = do(t, srv, http.MethodPost, "/api/cancel/nope", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelInFlight(t *testing.T) {
	started := make(chan struct{})
	srv, _ := setupServer(t, func(ctx context.Context, _ provider.Call) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"a slow game"}`)
	}()
	<-started

	w := do(t, srv, http.MethodPost, "/api/cancel/prompt", "", "")
	assert.True(t, gjson.Get(w.Body.String(), "cancelled").Bool())

	res := <-done
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "cancelled", gjson.Get(res.Body.String(), "status").String())
	assert.Equal(t, int64(0), gjson.Get(res.Body.String(), "messages.#").Int())
}

func TestWorkspaceLimit(t *testing.T) {
	srv, _ := setupServerWith(t, fixedReply("<p></p>"), func(c *config.Config) { c.Workspaces.Max = 2 })

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/session", "alice", "").Code)
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/session", "bob", "").Code)

	w := do(t, srv, http.MethodGet, "/api/session", "carol", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "too_many_sessions", gjson.Get(w.Body.String(), "error.type").String())

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/session", "alice", "").Code)
}

func TestIdleWorkspacesExpire(t *testing.T) {
	srv, _ := setupServerWith(t, fixedReply("<p>a</p>"), func(c *config.Config) {
		c.Workspaces.IdleTTL = 50 * time.Millisecond
		c.Workspaces.Max = 1
	})

	do(t, srv, http.MethodPost, "/api/generate", "alice", `{"prompt":"make a paragraph"}`)
	w := do(t, srv, http.MethodGet, "/api/session", "alice", "")
	require.Equal(t, int64(2), gjson.Get(w.Body.String(), "messages.#").Int())

	time.Sleep(120 * time.Millisecond)

	w = do(t, srv, http.MethodGet, "/api/session", "bob", "")
	require.Equal(t, http.StatusOK, w.Code, "the expired workspace frees its place")
	assert.Equal(t, 1, srv.workspaces.ItemCount())
	_, found := srv.workspaces.Get("alice")
	assert.False(t, found)
}

func TestEvictionCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	srv, _ := setupServer(t, func(ctx context.Context, _ provider.Call) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- do(t, srv, http.MethodPost, "/api/generate", "slow", `{"prompt":"a slow game"}`)
	}()
	<-started

	srv.workspaces.Delete("slow")

	select {
	case res := <-done:
		require.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, "cancelled", gjson.Get(res.Body.String(), "status").String())
	case <-time.After(5 * time.Second):
		t.Fatal("evicted workspace was not cancelled")
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv, backend := setupServer(t, fixedReply("<p>cached</p>"))

	do(t, srv, http.MethodPost, "/api/generate", "one", `{"prompt":"make the same thing"}`)
	w := do(t, srv, http.MethodPost, "/api/generate", "two", `{"prompt":"make the same thing"}`)
	assert.True(t, gjson.Get(w.Body.String(), "cached").Bool())
	assert.Equal(t, int32(1), backend.calls.Load())

	w = do(t, srv, http.MethodGet, "/api/cache", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "hits").Int())
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "misses").Int())
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "entries").Int())

	w = do(t, srv, http.MethodDelete, "/api/cache", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodGet, "/api/cache", "", "")
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "entries").Int())
	assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "hits").Int())
}

func TestShare(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<b>shared</b>"))

	w := do(t, srv, http.MethodPost, "/api/share", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":"make bold text"}`)
	w = do(t, srv, http.MethodPost, "/api/share", "", `{}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := gjson.Get(w.Body.String(), "id").String()
	require.NotEmpty(t, id)
	assert.Equal(t, "https://kidcode.example/share/"+id, gjson.Get(w.Body.String(), "url").String())

	w = do(t, srv, http.MethodGet, "/api/share/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<b>shared</b>", gjson.Get(w.Body.String(), "code").String())
	assert.Equal(t, "html", gjson.Get(w.Body.String(), "language").String())

	w = do(t, srv, http.MethodGet, "/share/"+id, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "&lt;b&gt;shared&lt;/b&gt;")

	w = do(t, srv, http.MethodGet, "/api/share/6f1c1b7e-0000-4000-8000-000000000000", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p></p>"))

	w := do(t, srv, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stub", gjson.Get(w.Body.String(), "provider").String())

	do(t, srv, http.MethodGet, "/api/starter", "", "")
	w = do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kidcode_http_requests_total")
}

func TestStarter(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p></p>"))
	w := do(t, srv, http.MethodGet, "/api/starter", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "prompt").String())
}

func TestErrorEnvelopes(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p></p>"))

	w := do(t, srv, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", gjson.Get(w.Body.String(), "error.type").String())

	w = do(t, srv, http.MethodPost, "/api/generate", "", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/session", strings.Repeat("x", 200), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisabledCache(t *testing.T) {
	log := quietLogger()
	engine := provider.New(&stubBackend{reply: fixedReply("<p></p>")}, provider.WithLimiter(nil), provider.WithLogger(log))
	srv := New(config.Default(), engine, nil, nil, nil, log)

	w := do(t, srv, http.MethodGet, "/api/cache", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = do(t, srv, http.MethodPost, "/api/share", "", `{"code":"<p></p>"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWriteErrorPlain(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "boom", body.Error.Message)
	assert.Equal(t, "internal_error", body.Error.Type)
}

func TestListenAndServeShutdown(t *testing.T) {
	srv, _ := setupServer(t, fixedReply("<p></p>"))
	srv.cfg.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	cancel()
	assert.NoError(t, <-errCh)
}
