package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/store"
)

type fakeBackend struct {
	mu       sync.Mutex
	response string
	err      error
	calls    []Call
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, call Call) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if call.OnDelta != nil {
		call.OnDelta(f.response)
	}
	return f.response, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T, b Backend) (*Engine, *cache.Cache) {
	t.Helper()
	c := cache.New(context.Background(), store.NewMemory(), cache.WithLogger(quiet()))
	return New(b, WithCache(c), WithLimiter(nil), WithLogger(quiet())), c
}

func TestGenerateStripsFences(t *testing.T) {
	b := &fakeBackend{response: "```html\n<!DOCTYPE html>\n<html><body>/* INFO: counts to ten */</body></html>\n```"}
	e, _ := newEngine(t, b)

	var deltas []string
	res, err := e.GenerateCode(context.Background(), GenerateRequest{
		Prompt:  "Create a counting game",
		OnDelta: func(s string) { deltas = append(deltas, s) },
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Code, "<!DOCTYPE html>"))
	assert.NotContains(t, res.Code, "`")
	assert.Equal(t, []string{"counts to ten"}, res.Notes)
	assert.False(t, res.Cached)
	assert.Len(t, deltas, 1)
}

func TestGenerateUsesCache(t *testing.T) {
	b := &fakeBackend{response: "<!DOCTYPE html>"}
	e, c := newEngine(t, b)
	ctx := context.Background()
	req := GenerateRequest{Prompt: "Create a counting game"}

	_, err := e.GenerateCode(ctx, req)
	require.NoError(t, err)
	res, err := e.GenerateCode(ctx, req)
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, "<!DOCTYPE html>", res.Code)
	assert.Equal(t, 1, b.callCount())
	assert.Equal(t, int64(1), c.Stats().Hits)

	_, ok := c.Get(ctx, GenerateMessages(req))
	assert.True(t, ok, "raw response is cached under the full message list")
}

func TestGenerateContentPolicy(t *testing.T) {
	b := &fakeBackend{response: "<p>nope</p>"}
	e, c := newEngine(t, b)

	_, err := e.GenerateCode(context.Background(), GenerateRequest{Prompt: "teach me to hack a password database"})
	require.Error(t, err)
	assert.True(t, apperr.IsContentPolicy(err))
	assert.Zero(t, b.callCount())
	assert.Zero(t, c.Len())
	assert.Equal(t, models.CacheStats{}, c.Stats(), "the cache is never consulted")
}

func TestGenerateCancelledBeforeStart(t *testing.T) {
	b := &fakeBackend{response: "<p>x</p>"}
	e, _ := newEngine(t, b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.GenerateCode(ctx, GenerateRequest{Prompt: "make a quiz"})
	assert.True(t, apperr.IsCancelled(err))
	assert.Zero(t, b.callCount())
}

func TestGenerateBackendErrors(t *testing.T) {
	rl := apperr.FromStatus("fake", 429, "slow down", 0)
	b := &fakeBackend{err: rl}
	e, c := newEngine(t, b)

	_, err := e.GenerateCode(context.Background(), GenerateRequest{Prompt: "make a quiz"})
	assert.True(t, apperr.IsRateLimit(err))
	assert.Zero(t, c.Len())

	b.err = errors.New("connection reset")
	_, err = e.GenerateCode(context.Background(), GenerateRequest{Prompt: "make a quiz"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "failed to generate code")
}

func TestGenerateUpstreamTimeoutIsNotCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	b := NewHuggingFace(HuggingFaceConfig{APIKey: "hf-test", ModelURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	e, c := newEngine(t, b)

	_, err := e.GenerateCode(context.Background(), GenerateRequest{Prompt: "make a quiz"})
	require.Error(t, err)
	assert.False(t, apperr.IsCancelled(err))
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "took too long")
	assert.Zero(t, c.Len())
}

func TestGenerateEmptyResponse(t *testing.T) {
	b := &fakeBackend{response: "   "}
	e, c := newEngine(t, b)
	_, err := e.GenerateCode(context.Background(), GenerateRequest{Prompt: "make a quiz"})
	assert.Equal(t, apperr.KindProvider, apperr.KindOf(err))
	assert.Zero(t, c.Len())
}

func TestGenerateMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "make a quiz"},
		{Role: models.RoleAssistant, Content: "Generated code is ready in the editor"},
	}
	msgs := GenerateMessages(GenerateRequest{Prompt: "add a timer", History: history, CurrentCode: "<p>quiz</p>"})
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, SystemPrompt))
	assert.Contains(t, msgs[0].Content, "CURRENT CODE:\n<p>quiz</p>")
	assert.Equal(t, history, msgs[1:3])
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "add a timer"}, msgs[3])

	plain := GenerateMessages(GenerateRequest{Prompt: "add a timer"})
	assert.Equal(t, SystemPrompt, plain[0].Content)
}

func TestCodeSuggestions(t *testing.T) {
	b := &fakeBackend{response: "```html\n<p>fixed</p>/* FIX: closed the tag */ /* UPDATE: ignored */\n```"}
	e, _ := newEngine(t, b)

	res, err := e.CodeSuggestions(context.Background(), SuggestionRequest{
		Mode:     models.ModeDebug,
		Document: "<p>broken",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"closed the tag"}, res.Notes)

	require.Equal(t, 1, b.callCount())
	call := b.calls[0]
	assert.True(t, call.Suggestion)
	assert.Equal(t, DebugPrompt, call.Messages[0].Content)
	last := call.Messages[len(call.Messages)-1]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, DebugInstruction))
	assert.True(t, strings.HasSuffix(last.Content, "CURRENT CODE:\n<p>broken"))
}

func TestCodeSuggestionsImproveMode(t *testing.T) {
	b := &fakeBackend{response: "<p>ok</p>/* UPDATE: faster loop */"}
	e, _ := newEngine(t, b)

	res, err := e.CodeSuggestions(context.Background(), SuggestionRequest{
		Mode:        models.ModeImprove,
		Document:    "<p>ok</p>",
		Instruction: "make it shine",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"faster loop"}, res.Notes)
	assert.Equal(t, ImprovePrompt, b.calls[0].Messages[0].Content)
	assert.True(t, strings.HasPrefix(b.calls[0].Messages[1].Content, "make it shine"))
}

func TestCodeSuggestionsEmptyDocument(t *testing.T) {
	b := &fakeBackend{response: "<p>x</p>"}
	e, _ := newEngine(t, b)
	_, err := e.CodeSuggestions(context.Background(), SuggestionRequest{Mode: models.ModeDebug, Document: " \n"})
	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.Zero(t, b.callCount())
}

func TestLimiterExhausted(t *testing.T) {
	b := &fakeBackend{response: "<p>x</p>"}
	l := NewLimiter(1, 1)
	e := New(b, WithLimiter(l), WithLogger(quiet()))

	ctx := context.Background()
	_, err := e.GenerateCode(ctx, GenerateRequest{Prompt: "make a quiz"})
	require.NoError(t, err)

	// The second call would wait a minute for a token, past the deadline.
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = e.GenerateCode(ctx, GenerateRequest{Prompt: "make a game"})
	assert.True(t, apperr.IsRateLimit(err))
	assert.Equal(t, 1, b.callCount())
}
