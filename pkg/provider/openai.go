package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
)

// OpenAI defaults.
const (
	DefaultOpenAIModel       = openai.GPT4
	DefaultOpenAITemperature = 0.7
	DefaultOpenAIMaxTokens   = 4000
)

// OpenAIBackend streams chat completions from the OpenAI API.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates an OpenAI backend. A nil client uses a plain
// http.Client; streaming calls are bounded by the caller's context.
func NewOpenAI(cfg OpenAIConfig, client *http.Client) *OpenAIBackend {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if client == nil {
		client = &http.Client{}
	}
	oc.HTTPClient = retryAfterDoer{client}
	b := &OpenAIBackend{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if b.model == "" {
		b.model = DefaultOpenAIModel
	}
	if b.temperature == 0 {
		b.temperature = DefaultOpenAITemperature
	}
	if b.maxTokens == 0 {
		b.maxTokens = DefaultOpenAIMaxTokens
	}
	return b
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return OpenAI }

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, call Call) (string, error) {
	hint := new(time.Duration)
	ctx = context.WithValue(ctx, retryAfterKey{}, hint)

	msgs := make([]openai.ChatCompletionMessage, 0, len(call.Messages))
	for _, m := range call.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    msgs,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", mapOpenAIError(err, *hint)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", mapOpenAIError(err, *hint)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if call.OnDelta != nil {
			call.OnDelta(delta)
		}
	}
	return sb.String(), nil
}

// retryAfterKey carries a *time.Duration that retryAfterDoer fills from the
// Retry-After header of a failed response. go-openai does not expose
// response headers on its errors.
type retryAfterKey struct{}

type retryAfterDoer struct {
	client *http.Client
}

func (d retryAfterDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil || resp.StatusCode < 400 {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryAfterKey{}).(*time.Duration); ok {
		*hint = retryAfter(resp.Header)
	}
	return resp, nil
}

func mapOpenAIError(err error, wait time.Duration) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		e := apperr.FromStatus(OpenAI, apiErr.HTTPStatusCode, apiErr.Message, wait)
		e.Err = err
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		e := apperr.FromStatus(OpenAI, reqErr.HTTPStatusCode, reqErr.Error(), wait)
		e.Err = err
		return e
	}
	return err
}

var _ Backend = (*OpenAIBackend)(nil)

