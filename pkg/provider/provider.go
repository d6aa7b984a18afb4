// Package provider adapts the LLM backends behind one code generation
// interface. Every call goes through the response cache before it reaches
// the network.
package provider

import (
	"context"
	"errors"

	"github.com/kidcode-ai/kidcode/pkg/models"
)

// Provider generates and revises single-file web documents.
type Provider interface {
	// Name returns the backend name, e.g. "openai".
	Name() string
	// GenerateCode produces a new document from a prompt.
	GenerateCode(ctx context.Context, req GenerateRequest) (*Result, error)
	// CodeSuggestions returns a revised version of an existing document.
	CodeSuggestions(ctx context.Context, req SuggestionRequest) (*Result, error)
}

// GenerateRequest asks for a new document.
type GenerateRequest struct {
	Prompt  string
	History []models.Message
	// CurrentCode, when set, is offered to the model as a starting point.
	CurrentCode string
	// OnDelta is called with each chunk of streamed output.
	OnDelta func(string)
}

// SuggestionRequest asks for a debugged or improved document.
type SuggestionRequest struct {
	Mode        models.Mode
	Document    string
	Instruction string
	History     []models.Message
	OnDelta     func(string)
}

// Result is a post-processed model response.
type Result struct {
	// Code is the document with fences and backticks removed.
	Code string
	// Raw is the unprocessed model output, as cached.
	Raw string
	// Notes are the extracted inline annotations.
	Notes  []string
	Cached bool
}

// Backend performs one completion against an upstream model.
type Backend interface {
	Name() string
	Complete(ctx context.Context, call Call) (string, error)
}

// Call is a single upstream completion.
type Call struct {
	// Suggestion is true for debug and improve calls.
	Suggestion bool
	Messages   []models.Message
	OnDelta    func(string)
}

// ErrEmptyDocument is returned when a suggestion is requested for an empty
// document.
var ErrEmptyDocument = errors.New("provider: document is empty")
