// Package mcp serves a kidcode workspace as Model Context Protocol tools
// over newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/share"
)

// Server exposes one coordinator as MCP tools. Tool calls run concurrently
// so a cancel can reach an operation that is still in flight.
type Server struct {
	coord   *coordinator.Coordinator
	cache   *cache.Cache
	shares  share.Store
	origin  string
	version string
	log     logrus.FieldLogger

	writeMu  sync.Mutex
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables the cache_stats tool.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithShares enables the share_code tool.
func WithShares(st share.Store, origin string) Option {
	return func(s *Server) { s.shares, s.origin = st, origin }
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger. It must not write to the protocol stream.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server around coord.
func New(coord *coordinator.Coordinator, opts ...Option) *Server {
	s := &Server{
		coord:    coord,
		version:  "dev",
		log:      logrus.StandardLogger(),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads requests from r line by line and writes responses to w. It
// returns once r is exhausted and every tool call has answered, or when ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, w, &req); resp != nil {
			s.writeResponse(w, *resp)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

func (s *Server) dispatch(ctx context.Context, w io.Writer, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      ServerInfo{Name: "kidcode", Version: s.version},
				Capabilities:    map[string]any{"tools": map[string]any{}},
			},
		}
	case "notifications/initialized":
		return nil
	case "notifications/cancelled":
		s.handleCancelled(req)
		return nil
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: allTools}}
	case "tools/call":
		return s.handleToolsCall(ctx, w, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

// handleToolsCall answers unknown tools inline and runs known ones in their
// own goroutine, writing the response when the tool returns.
func (s *Server) handleToolsCall(ctx context.Context, w io.Writer, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  errorResult(fmt.Sprintf("unknown tool: %s", params.Name)),
		}
	}

	callCtx, cancel := context.WithCancel(ctx)
	key := string(req.ID)
	s.mu.Lock()
	s.inflight[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			cancel()
		}()
		result := handler(callCtx, s, params.Arguments)
		s.writeResponse(w, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}()
	return nil
}

func (s *Server) handleCancelled(req *Request) {
	var params CancelledParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return
	}
	s.mu.Lock()
	cancel, ok := s.inflight[string(params.RequestID)]
	s.mu.Unlock()
	if ok {
		s.log.WithField("request_id", string(params.RequestID)).Debug("mcp: client cancelled request")
		cancel()
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("mcp: marshal response")
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Error("mcp: write response")
	}
}
