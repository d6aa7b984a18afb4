package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/share"
)

type generateArgs struct {
	Prompt    string `json:"prompt"`
	Exclusive bool   `json:"exclusive"`
}

type suggestArgs struct {
	Code        string `json:"code"`
	Instruction string `json:"instruction"`
}

type slotArgs struct {
	Slot string `json:"slot"`
}

type shareArgs struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"generate_code":    handleGenerate,
	"debug_code":       suggestHandler(models.SlotDebug),
	"improve_code":     suggestHandler(models.SlotImprove),
	"cancel_operation": handleCancel,
	"get_session":      handleSession,
	"reset_session":    handleReset,
	"cache_stats":      handleCacheStats,
	"share_code":       handleShare,
}

var suggestSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "Code to load into the editor first (optional, defaults to the current editor code)",
		},
		"instruction": map[string]any{
			"type":        "string",
			"description": "Replaces the default instruction (optional)",
		},
	},
}

var allTools = []ToolDefinition{
	{
		Name:        "generate_code",
		Description: "Create a kid-friendly HTML/CSS/JS project from a prompt. The result replaces the editor code.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "What to build, e.g. \"a bouncing ball game\"",
				},
				"exclusive": map[string]any{
					"type":        "boolean",
					"description": "Fail instead of replacing a generation that is already running",
				},
			},
		},
	},
	{
		Name:        "debug_code",
		Description: "Find and fix problems in the editor code, with FIX notes explaining each change.",
		InputSchema: suggestSchema,
	},
	{
		Name:        "improve_code",
		Description: "Make the editor code better and more fun, with UPDATE notes explaining each change.",
		InputSchema: suggestSchema,
	},
	{
		Name:        "cancel_operation",
		Description: "Cancel the operation running in a slot (prompt, debug or improve).",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"slot"},
			"properties": map[string]any{
				"slot": map[string]any{
					"type": "string",
					"enum": []string{"prompt", "debug", "improve"},
				},
			},
		},
	},
	{
		Name:        "get_session",
		Description: "Show the chat history and the current editor code.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "reset_session",
		Description: "Cancel everything and start over with an empty chat and editor.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "cache_stats",
		Description: "Show response cache statistics (entries, hits, misses, tokens saved).",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        "share_code",
		Description: "Save code and return a link anyone can open.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":     map[string]any{"type": "string", "description": "Code to share (optional, defaults to the editor code)"},
				"language": map[string]any{"type": "string", "description": "Language of the code (optional)"},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func handleGenerate(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args generateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	return s.submit(ctx, models.SlotPrompt, coordinator.Request{Prompt: args.Prompt, Exclusive: args.Exclusive})
}

func suggestHandler(slot models.Slot) toolHandler {
	return func(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
		var args suggestArgs
		if err := decodeArgs(raw, &args); err != nil {
			return errorResult("invalid arguments: " + err.Error())
		}
		if args.Code != "" {
			s.coord.Editor().SetCode(args.Code)
		}
		return s.submit(ctx, slot, coordinator.Request{Instruction: args.Instruction})
	}
}

func (s *Server) submit(ctx context.Context, slot models.Slot, req coordinator.Request) ToolCallResult {
	out, err := s.coord.Submit(ctx, slot, req)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Message != "" {
			return errorResult(ae.Message)
		}
		return errorResult(err.Error())
	}
	switch out.Status {
	case coordinator.Rejected:
		return errorResult(out.Reason)
	case coordinator.Cancelled, coordinator.Superseded:
		return errorResult("operation " + string(out.Status))
	}
	return textResult(formatOutcome(out))
}

func handleCancel(_ context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args slotArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	slot, err := models.ParseSlot(args.Slot)
	if err != nil {
		return errorResult(err.Error())
	}
	if !s.coord.Cancel(slot) {
		return textResult("Nothing is running in the " + string(slot) + " slot.")
	}
	return textResult("Cancelled the " + string(slot) + " operation.")
}

func handleSession(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatSession(s.coord.Chat().Messages(), s.coord.Editor().Code()))
}

func handleReset(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	s.coord.Reset()
	return textResult("Started a fresh session.")
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheStats(s.cache.Stats(), s.cache.Len()))
}

func handleShare(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.shares == nil {
		return textResult("Sharing is not configured.")
	}
	var args shareArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}
	code, language := args.Code, args.Language
	if code == "" {
		code = s.coord.Editor().Code()
	}
	if language == "" {
		language = s.coord.Editor().Language()
	}
	if strings.TrimSpace(code) == "" {
		return errorResult("there is no code to share")
	}
	snip, err := s.shares.Create(ctx, code, language)
	if err != nil {
		return errorResult("Error sharing code: " + err.Error())
	}
	return textResult(share.URL(s.origin, snip.ID))
}
