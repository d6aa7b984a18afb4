// Package coordinator runs the prompt, debug and improve operations for one
// workspace. Each slot has at most one attempt in flight; a new submit in a
// busy slot cancels and rolls back the previous attempt, and a settlement
// that arrives for an attempt that is no longer current is discarded.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/cancel"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/provider"
	"github.com/kidcode-ai/kidcode/pkg/session"
)

// State is the lifecycle state of a slot.
type State string

const (
	Idle       State = "idle"
	Requesting State = "requesting"
	Streaming  State = "streaming"
	Cancelling State = "cancelling"
)

// Status is how a submit ended.
type Status string

const (
	// Completed means the result was applied to the chat and editor.
	Completed Status = "completed"
	// Rejected means a precondition failed; nothing was sent.
	Rejected Status = "rejected"
	// Cancelled means the attempt was aborted and rolled back.
	Cancelled Status = "cancelled"
	// Superseded means a newer submit in the same slot replaced the attempt.
	Superseded Status = "superseded"
	// Failed means the provider returned an error.
	Failed Status = "failed"
)

// Assistant status messages appended after a successful operation.
const (
	GeneratedMessage = "Generated code is ready in the editor"
	DebuggedMessage  = "The code has been debugged and updated in the editor"
	ImprovedMessage  = "The code has been improved and updated in the editor"
)

// Request is one submit.
type Request struct {
	// Prompt is the user's request in the prompt slot.
	Prompt string
	// Instruction overrides the default debug or improve instruction.
	Instruction string
	// Exclusive rejects the submit when the slot is busy instead of
	// replacing the running attempt.
	Exclusive bool
}

// Outcome describes a settled submit.
type Outcome struct {
	ID       string        `json:"id"`
	Slot     models.Slot   `json:"slot"`
	Status   Status        `json:"status"`
	Code     string        `json:"code,omitempty"`
	Notes    []string      `json:"notes,omitempty"`
	Cached   bool          `json:"cached"`
	Provider string        `json:"provider,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// Recorder receives every outcome. Record must not block.
type Recorder interface {
	Record(rec models.GenerationRecord)
}

type attempt struct {
	id      string
	slot    models.Slot
	token   *cancel.Token
	userMsg session.Handle
	// ended is set, under the coordinator lock, when the attempt is aborted
	// by someone other than its own settlement.
	ended Status
}

// Coordinator owns the chat and editor state of one workspace.
type Coordinator struct {
	workspace string
	provider  provider.Provider
	chat      *session.Chat
	editor    *session.Editor
	recorder  Recorder
	hook      func(models.Slot, State)
	log       logrus.FieldLogger

	mu     sync.Mutex
	slots  map[models.Slot]*attempt
	states map[models.Slot]State
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorkspace names the workspace in logs and records.
func WithWorkspace(name string) Option {
	return func(c *Coordinator) { c.workspace = name }
}

// WithRecorder registers an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithStateHook observes slot transitions. The hook runs under the
// coordinator lock and must not call back into the Coordinator.
func WithStateHook(fn func(models.Slot, State)) Option {
	return func(c *Coordinator) { c.hook = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a Coordinator with empty chat and editor state.
func New(p provider.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		workspace: "default",
		provider:  p,
		chat:      session.NewChat(),
		editor:    session.NewEditor(),
		log:       logrus.StandardLogger(),
		slots:     make(map[models.Slot]*attempt),
		states:    make(map[models.Slot]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("workspace", c.workspace)
	return c
}

// Chat returns the conversation log.
func (c *Coordinator) Chat() *session.Chat { return c.chat }

// Editor returns the current document.
func (c *Coordinator) Editor() *session.Editor { return c.editor }

// State returns the current state of slot.
func (c *Coordinator) State(slot models.Slot) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[slot]; ok {
		return s
	}
	return Idle
}

// Busy reports whether slot has an attempt in flight.
func (c *Coordinator) Busy(slot models.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[slot] != nil
}

// Submit runs one operation in slot and waits for it to settle. ctx is
// merged with the slot's own cancellation; either side aborts the call.
// Cancellation is reported as a Cancelled or Superseded outcome with a nil
// error. Provider failures are returned as errors with a Failed outcome.
func (c *Coordinator) Submit(ctx context.Context, slot models.Slot, req Request) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{ID: uuid.NewString(), Slot: slot, Provider: c.provider.Name()}

	userText, reason := c.precondition(slot, req)
	if reason != "" {
		out.Status, out.Reason = Rejected, reason
		c.record(out, nil, 0, 0)
		return out, nil
	}

	c.mu.Lock()
	if prev := c.slots[slot]; prev != nil {
		if req.Exclusive {
			c.mu.Unlock()
			out.Status, out.Reason = Rejected, "an operation is already running in this slot"
			c.record(out, nil, 0, 0)
			return out, nil
		}
		c.abortLocked(prev, Superseded)
	}
	history := c.chat.Messages()
	document := c.editor.Code()
	a := &attempt{id: out.ID, slot: slot, token: cancel.Merge(ctx)}
	a.userMsg = c.chat.Append(models.Message{Role: models.RoleUser, Content: userText})
	c.slots[slot] = a
	c.setStateLocked(slot, Requesting)
	c.mu.Unlock()

	defer func() {
		a.token.Stop()
		a.token.Cancel()
	}()

	res, err := c.call(a, userText, req, history, document)
	out.Latency = time.Since(start)

	c.mu.Lock()
	if c.slots[slot] != a {
		// Someone else already rolled this attempt back.
		out.Status = a.ended
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{"slot": slot, "id": a.id, "status": out.Status}).Debug("discarding stale settlement")
		c.record(out, nil, len(userText), 0)
		return out, nil
	}
	delete(c.slots, slot)
	c.setStateLocked(slot, Idle)

	if a.token.Cancelled() || apperr.IsCancelled(err) {
		c.chat.Remove(a.userMsg)
		c.mu.Unlock()
		out.Status = Cancelled
		c.log.WithFields(logrus.Fields{"slot": slot, "id": a.id}).Debug("operation cancelled")
		c.record(out, nil, len(userText), 0)
		return out, nil
	}
	if err != nil {
		c.mu.Unlock()
		out.Status = Failed
		c.log.WithError(err).WithFields(logrus.Fields{"slot": slot, "id": a.id}).Warn("operation failed")
		c.record(out, err, len(userText), 0)
		return out, err
	}

	c.editor.SetCode(res.Code)
	if len(res.Notes) > 0 {
		c.chat.Append(models.Message{Role: models.RoleAssistant, Content: strings.Join(res.Notes, "\n")})
	}
	c.chat.Append(models.Message{Role: models.RoleAssistant, Content: statusMessage(slot)})
	c.mu.Unlock()

	out.Status = Completed
	out.Code, out.Notes, out.Cached = res.Code, res.Notes, res.Cached
	c.record(out, nil, len(userText), cache.EstimateTokens(res.Raw))
	return out, nil
}

// Cancel aborts the attempt running in slot and rolls back its optimistic
// chat message. A later settlement of that attempt is discarded. It reports
// whether anything was running.
func (c *Coordinator) Cancel(slot models.Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.slots[slot]
	if a == nil {
		return false
	}
	c.abortLocked(a, Cancelled)
	c.setStateLocked(slot, Idle)
	return true
}

// Reset cancels every slot and clears the chat and editor.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, slot := range models.Slots {
		if a := c.slots[slot]; a != nil {
			c.abortLocked(a, Cancelled)
			c.setStateLocked(slot, Idle)
		}
	}
	c.chat.Clear()
	c.editor.Reset()
}

func (c *Coordinator) abortLocked(a *attempt, status Status) {
	c.setStateLocked(a.slot, Cancelling)
	a.token.Cancel()
	a.ended = status
	c.chat.Remove(a.userMsg)
	delete(c.slots, a.slot)
}

func (c *Coordinator) setStateLocked(slot models.Slot, s State) {
	prev := c.states[slot]
	if prev == s {
		return
	}
	c.states[slot] = s
	trackTransition(slot, prev, s)
	if c.hook != nil {
		c.hook(slot, s)
	}
}

func (c *Coordinator) markStreaming(a *attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[a.slot] == a && c.states[a.slot] == Requesting {
		c.setStateLocked(a.slot, Streaming)
	}
}

func (c *Coordinator) precondition(slot models.Slot, req Request) (userText, reason string) {
	mode, suggestion := slot.Mode()
	if !suggestion {
		if slot != models.SlotPrompt {
			return "", "unknown slot"
		}
		if strings.TrimSpace(req.Prompt) == "" {
			return "", "prompt is empty"
		}
		return req.Prompt, ""
	}
	if strings.TrimSpace(c.editor.Code()) == "" {
		return "", "there is no code in the editor yet"
	}
	if req.Instruction != "" {
		return req.Instruction, ""
	}
	if mode == models.ModeImprove {
		return provider.ImproveInstruction, ""
	}
	return provider.DebugInstruction, ""
}

func (c *Coordinator) call(a *attempt, userText string, req Request, history []models.Message, document string) (*provider.Result, error) {
	ctx := a.token.Context()
	onDelta := func(string) { c.markStreaming(a) }

	mode, suggestion := a.slot.Mode()
	if !suggestion {
		return c.provider.GenerateCode(ctx, provider.GenerateRequest{
			Prompt:      userText,
			History:     history,
			CurrentCode: document,
			OnDelta:     onDelta,
		})
	}
	return c.provider.CodeSuggestions(ctx, provider.SuggestionRequest{
		Mode:        mode,
		Document:    document,
		Instruction: userText,
		History:     history,
		OnDelta:     onDelta,
	})
}

func (c *Coordinator) record(out *Outcome, err error, promptChars, tokens int) {
	outcomes.WithLabelValues(string(out.Slot), string(out.Status)).Inc()
	if c.recorder == nil {
		return
	}
	rec := models.GenerationRecord{
		RequestID:   out.ID,
		Workspace:   c.workspace,
		Slot:        out.Slot,
		Provider:    out.Provider,
		Status:      string(out.Status),
		Cached:      out.Cached,
		PromptChars: promptChars,
		Tokens:      tokens,
		LatencyMs:   out.Latency.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	} else if out.Reason != "" {
		rec.Error = out.Reason
	}
	c.recorder.Record(rec)
}

func statusMessage(slot models.Slot) string {
	switch slot {
	case models.SlotDebug:
		return DebuggedMessage
	case models.SlotImprove:
		return ImprovedMessage
	default:
		return GeneratedMessage
	}
}
