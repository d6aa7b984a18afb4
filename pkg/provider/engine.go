package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/safety"
)

// DefaultRequestsPerMinute bounds upstream calls per process.
const DefaultRequestsPerMinute = 50

// Engine implements Provider on top of a Backend.
type Engine struct {
	backend Backend
	cache   *cache.Cache
	limiter *rate.Limiter
	policy  *safety.Policy
	log     logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache consults c before every upstream call.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLimiter replaces the default limiter. A nil limiter disables limiting.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithPolicy replaces the content policy applied to generate prompts.
func WithPolicy(p *safety.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the engine logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// NewLimiter returns a limiter allowing perMinute calls with the given burst.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = DefaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// New wraps b in an Engine.
func New(b Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: b,
		limiter: NewLimiter(DefaultRequestsPerMinute, 5),
		policy:  safety.DefaultPolicy,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the backend name.
func (e *Engine) Name() string { return e.backend.Name() }

// GenerateCode implements Provider.
func (e *Engine) GenerateCode(ctx context.Context, req GenerateRequest) (*Result, error) {
	if e.policy != nil {
		if err := e.policy.Check(req.Prompt); err != nil {
			contentRejections.Inc()
			return nil, err
		}
	}
	return e.run(ctx, Call{Messages: GenerateMessages(req), OnDelta: req.OnDelta}, GenerateTags)
}

// CodeSuggestions implements Provider.
func (e *Engine) CodeSuggestions(ctx context.Context, req SuggestionRequest) (*Result, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, ErrEmptyDocument
	}
	tags := DebugTags
	if req.Mode == models.ModeImprove {
		tags = ImproveTags
	}
	return e.run(ctx, Call{Suggestion: true, Messages: SuggestionMessages(req), OnDelta: req.OnDelta}, tags)
}

// GenerateMessages builds the message list sent for a generate call.
func GenerateMessages(req GenerateRequest) []models.Message {
	system := SystemPrompt
	if req.CurrentCode != "" {
		system += "\n\nCURRENT CODE:\n" + req.CurrentCode +
			"\n\nModify, expand, or use this code as reference while following the above rules."
	}
	return buildMessages(system, req.History, req.Prompt)
}

// SuggestionMessages builds the message list sent for a debug or improve
// call. The user turn carries the document verbatim.
func SuggestionMessages(req SuggestionRequest) []models.Message {
	system, instruction := DebugPrompt, DebugInstruction
	if req.Mode == models.ModeImprove {
		system, instruction = ImprovePrompt, ImproveInstruction
	}
	if req.Instruction != "" {
		instruction = req.Instruction
	}
	return buildMessages(system, req.History, instruction+"\n\nCURRENT CODE:\n"+req.Document)
}

func buildMessages(system string, history []models.Message, user string) []models.Message {
	msgs := make([]models.Message, 0, len(history)+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	return append(msgs, models.Message{Role: models.RoleUser, Content: user})
}

func (e *Engine) run(ctx context.Context, call Call, tags []string) (*Result, error) {
	name := e.backend.Name()
	if err := ctx.Err(); err != nil {
		return nil, apperr.Cancelled(name, err)
	}

	// Cache IO is best effort and must not be cut short by a cancel that
	// lands after the response arrived.
	cacheCtx := context.WithoutCancel(ctx)
	if e.cache != nil {
		if raw, ok := e.cache.Get(cacheCtx, call.Messages); ok {
			return finish(raw, tags, true), nil
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, apperr.Cancelled(name, ctx.Err())
			}
			return nil, apperr.RateLimit(name, 0)
		}
	}

	kind := "generate"
	if call.Suggestion {
		kind = "suggest"
	}
	start := time.Now()
	raw, err := e.backend.Complete(ctx, call)
	requestDuration.WithLabelValues(name, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			requestsTotal.WithLabelValues(name, kind, "cancelled").Inc()
			return nil, apperr.Cancelled(name, ctx.Err())
		}
		wrapped := apperr.Wrap(name, fmt.Sprintf("failed to %s code", verb(call)), err)
		requestsTotal.WithLabelValues(name, kind, string(wrapped.Kind)).Inc()
		return nil, wrapped
	}
	if strings.TrimSpace(raw) == "" {
		requestsTotal.WithLabelValues(name, kind, "empty").Inc()
		return nil, &apperr.Error{
			Kind:     apperr.KindProvider,
			Provider: name,
			Message:  "no response received from AI, please try again",
		}
	}
	requestsTotal.WithLabelValues(name, kind, "ok").Inc()

	if e.cache != nil {
		e.cache.Set(cacheCtx, call.Messages, raw)
	}
	e.log.WithFields(logrus.Fields{
		"provider":   name,
		"kind":       kind,
		"chars":      len(raw),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("completion finished")
	return finish(raw, tags, false), nil
}

func verb(call Call) string {
	if call.Suggestion {
		return "get suggestions for"
	}
	return "generate"
}

func finish(raw string, tags []string, cached bool) *Result {
	code := TrimCodeDelimiters(raw)
	return &Result{
		Code:   code,
		Raw:    raw,
		Notes:  ExtractAnnotations(code, tags),
		Cached: cached,
	}
}
