package server

import (
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/share"
)

type submitBody struct {
	Prompt      string `json:"prompt"`
	Instruction string `json:"instruction"`
	// Code, when set on debug or improve, replaces the editor document first.
	Code      string `json:"code"`
	Language  string `json:"language"`
	Exclusive bool   `json:"exclusive"`
}

type outcomeResponse struct {
	*coordinator.Outcome
	Messages []models.Message `json:"messages"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}
	s.submit(w, r, ws, models.SlotPrompt, coordinator.Request{Prompt: body.Prompt, Exclusive: body.Exclusive})
}

func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}
	slot := models.SlotDebug
	if strings.HasSuffix(r.URL.Path, "/improve") {
		slot = models.SlotImprove
	}
	if body.Code != "" {
		ws.Editor().SetCode(body.Code)
	}
	s.submit(w, r, ws, slot, coordinator.Request{Instruction: body.Instruction, Exclusive: body.Exclusive})
}

// submit blocks until the attempt settles; a client disconnect cancels it.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, ws *coordinator.Coordinator, slot models.Slot, req coordinator.Request) {
	out, err := ws.Submit(r.Context(), slot, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Outcome: out, Messages: ws.Chat().Messages()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	slot, err := models.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "cancelled": ws.Cancel(slot)})
}

type sessionResponse struct {
	ContextID       string                            `json:"context_id"`
	Messages        []models.Message                  `json:"messages"`
	Code            string                            `json:"code"`
	Language        string                            `json:"language"`
	States          map[models.Slot]coordinator.State `json:"states"`
	PromptCount     int                               `json:"prompt_count"`
	TotalCharacters int                               `json:"total_characters"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	states := make(map[models.Slot]coordinator.State, len(models.Slots))
	for _, slot := range models.Slots {
		states[slot] = ws.State(slot)
	}
	chat := ws.Chat()
	writeJSON(w, http.StatusOK, sessionResponse{
		ContextID:       chat.ContextID(),
		Messages:        chat.Messages(),
		Code:            ws.Editor().Code(),
		Language:        ws.Editor().Language(),
		States:          states,
		PromptCount:     chat.PromptCount(),
		TotalCharacters: chat.TotalCharacters(),
	})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	ws.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": ws.Editor().Code(), "language": ws.Editor().Language()})
}

func (s *Server) handleSetEditor(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}
	ws.Editor().SetCode(body.Code)
	w.WriteHeader(http.StatusNoContent)
}

type cacheResponse struct {
	models.CacheStats
	Entries int `json:"entries"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "configuration_error", "response cache is disabled")
		return
	}
	writeJSON(w, http.StatusOK, cacheResponse{CacheStats: s.cache.Stats(), Entries: s.cache.Len()})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "configuration_error", "response cache is disabled")
		return
	}
	s.cache.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type shareResponse struct {
	models.Snippet
	URL string `json:"url"`
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	if s.shares == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "configuration_error", "sharing is not configured")
		return
	}
	ws, ok := s.workspaceFor(w, r)
	if !ok {
		return
	}
	var body submitBody
	if !decodeBody(w, r, &body) {
		return
	}
	code, language := body.Code, body.Language
	if code == "" {
		code, language = ws.Editor().Code(), ws.Editor().Language()
	}
	if strings.TrimSpace(code) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "there is no code to share")
		return
	}
	if language == "" {
		language = ws.Editor().Language()
	}

	snip, err := s.shares.Create(r.Context(), code, language)
	if err != nil {
		s.log.WithError(err).Error("share create failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareResponse{Snippet: snip, URL: share.URL(s.cfg.Share.Origin, snip.ID)})
}

func (s *Server) lookupShare(w http.ResponseWriter, r *http.Request) (models.Snippet, bool) {
	if s.shares == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "configuration_error", "sharing is not configured")
		return models.Snippet{}, false
	}
	snip, err := s.shares.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, share.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "snippet not found")
		return models.Snippet{}, false
	}
	if err != nil {
		s.log.WithError(err).Error("share lookup failed")
		writeError(w, err)
		return models.Snippet{}, false
	}
	return snip, true
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	snip, ok := s.lookupShare(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snip)
}

var sharePage = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Shared kidcode project</title>
</head>
<body>
<h1>Shared project ({{.Language}})</h1>
<pre><code>{{.Code}}</code></pre>
</body>
</html>
`))

func (s *Server) handleSharePage(w http.ResponseWriter, r *http.Request) {
	snip, ok := s.lookupShare(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := sharePage.Execute(w, snip); err != nil {
		s.log.WithError(err).Warn("render share page")
	}
}

func (s *Server) handleStarter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prompt": s.deck.Next()})
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
