package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/models"
)

const snippetsPath = "/rest/v1/code_snippets"

// Supabase talks to the hosted code_snippets table through PostgREST.
type Supabase struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewSupabase validates the project URL and key.
func NewSupabase(projectURL, anonKey string, client *http.Client) (*Supabase, error) {
	if projectURL == "" || anonKey == "" {
		return nil, apperr.Configuration("missing Supabase configuration, set SUPABASE_URL and SUPABASE_ANON_KEY")
	}
	u, err := url.Parse(projectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperr.Configuration(fmt.Sprintf("invalid Supabase URL %q", projectURL))
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Supabase{baseURL: strings.TrimRight(projectURL, "/"), anonKey: anonKey, client: client}, nil
}

func (s *Supabase) Create(ctx context.Context, code, language string) (models.Snippet, error) {
	body, err := json.Marshal([]map[string]string{{"code": code, "language": language}})
	if err != nil {
		return models.Snippet{}, fmt.Errorf("marshal snippet: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPost, s.baseURL+snippetsPath, bytes.NewReader(body))
	if err != nil {
		return models.Snippet{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	data, err := s.do(req)
	if err != nil {
		return models.Snippet{}, err
	}
	row := gjson.GetBytes(data, "0")
	if !row.Get("id").Exists() {
		return models.Snippet{}, fmt.Errorf("supabase insert returned no id: %s", data)
	}
	return snippetFrom(row), nil
}

func (s *Supabase) Get(ctx context.Context, id string) (models.Snippet, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "id,code,language,created_at")
	req, err := s.newRequest(ctx, http.MethodGet, s.baseURL+snippetsPath+"?"+q.Encode(), nil)
	if err != nil {
		return models.Snippet{}, err
	}
	data, err := s.do(req)
	if err != nil {
		return models.Snippet{}, err
	}
	row := gjson.GetBytes(data, "0")
	if !row.Exists() {
		return models.Snippet{}, ErrNotFound
	}
	return snippetFrom(row), nil
}

func (s *Supabase) Close() error { return nil }

func (s *Supabase) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+s.anonKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *Supabase) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		// PostgREST answers 400 for ids that are not valid uuids.
		if req.Method == http.MethodGet && resp.StatusCode == http.StatusBadRequest {
			return nil, ErrNotFound
		}
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = string(data)
		}
		return nil, fmt.Errorf("supabase returned %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}

func snippetFrom(row gjson.Result) models.Snippet {
	sn := models.Snippet{
		ID:       row.Get("id").String(),
		Code:     row.Get("code").String(),
		Language: row.Get("language").String(),
	}
	if ts := row.Get("created_at").String(); ts != "" {
		sn.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return sn
}
