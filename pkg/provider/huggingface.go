package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

// Hugging Face defaults.
const (
	DefaultHuggingFaceModelURL = "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.2"
	DefaultHuggingFaceTimeout  = 2 * time.Minute

	generateMaxNewTokens = 4096
	suggestMaxNewTokens  = 2048
)

// HuggingFaceBackend calls the text-generation inference API. The API does
// not stream; OnDelta receives the whole response once.
type HuggingFaceBackend struct {
	apiKey   string
	modelURL string
	client   *http.Client
}

// NewHuggingFace creates a Hugging Face backend. A nil client gets one with
// the configured timeout.
func NewHuggingFace(cfg HuggingFaceConfig, client *http.Client) *HuggingFaceBackend {
	b := &HuggingFaceBackend{apiKey: cfg.APIKey, modelURL: cfg.ModelURL, client: client}
	if b.modelURL == "" {
		b.modelURL = DefaultHuggingFaceModelURL
	}
	if b.client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultHuggingFaceTimeout
		}
		b.client = &http.Client{Timeout: timeout}
	}
	return b
}

// Name implements Backend.
func (b *HuggingFaceBackend) Name() string { return HuggingFace }

// Complete implements Backend.
func (b *HuggingFaceBackend) Complete(ctx context.Context, call Call) (string, error) {
	maxTokens := generateMaxNewTokens
	if call.Suggestion {
		maxTokens = suggestMaxNewTokens
	}
	body, err := json.Marshal(models.TextGenerationRequest{
		Inputs: Transcript(call.Messages),
		Parameters: models.TextGenerationParameters{
			MaxNewTokens:      maxTokens,
			Temperature:       0.7,
			TopP:              0.95,
			TopK:              50,
			RepetitionPenalty: 1.15,
			ReturnFullText:    false,
			WaitForModel:      true,
			UseCache:          true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.modelURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error, please check your connection: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		e := apperr.FromStatus(HuggingFace, resp.StatusCode, string(respBody), retryAfter(resp.Header))
		if msg := gjson.GetBytes(respBody, "error").String(); msg != "" && e.Kind == apperr.KindProvider {
			e.Message = msg
		}
		return "", e
	}

	text := gjson.GetBytes(respBody, "0.generated_text").String()
	if text != "" && call.OnDelta != nil {
		call.OnDelta(text)
	}
	return text, nil
}

// Transcript flattens messages into the Human/Assistant prompt format used by
// instruction-tuned text generation models. A leading system message becomes
// the preamble and the final user message becomes the open turn.
func Transcript(msgs []models.Message) string {
	var preamble []string
	for len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		preamble = append(preamble, msgs[0].Content)
		msgs = msgs[1:]
	}
	var last string
	if n := len(msgs); n > 0 && msgs[n-1].Role == models.RoleUser {
		last = msgs[n-1].Content
		msgs = msgs[:n-1]
	}

	history := make([]string, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, speaker(m.Role)+": "+m.Content)
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(preamble, "\n\n"))
	sb.WriteString("\n\nConversation history:\n")
	sb.WriteString(strings.Join(history, "\n"))
	sb.WriteString("\n\nHuman: ")
	sb.WriteString(last)
	sb.WriteString("\n\nAssistant:")
	return sb.String()
}

func speaker(r models.Role) string {
	if r == models.RoleUser {
		return "Human"
	}
	return "Assistant"
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ Backend = (*HuggingFaceBackend)(nil)
