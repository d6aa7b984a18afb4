// Package server exposes kidcode workspaces over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kidcode-ai/kidcode/pkg/apperr"
	"github.com/kidcode-ai/kidcode/pkg/cache"
	"github.com/kidcode-ai/kidcode/pkg/config"
	"github.com/kidcode-ai/kidcode/pkg/coordinator"
	"github.com/kidcode-ai/kidcode/pkg/models"
	"github.com/kidcode-ai/kidcode/pkg/provider"
	"github.com/kidcode-ai/kidcode/pkg/session"
	"github.com/kidcode-ai/kidcode/pkg/share"
)

const (
	// SessionHeader selects the workspace a request operates on.
	SessionHeader    = "X-Kidcode-Session"
	DefaultWorkspace = "default"

	maxWorkspaceName = 128
	maxBodyBytes     = 1 << 20
)

// Server is the kidcode HTTP API.
type Server struct {
	cfg      *config.Config
	provider provider.Provider
	cache    *cache.Cache
	shares   share.Store
	recorder coordinator.Recorder
	log      logrus.FieldLogger
	deck     *session.StarterDeck
	router   *mux.Router

	// mu serializes workspace creation; the cache handles its own locking.
	mu            sync.Mutex
	workspaces    *gocache.Cache
	maxWorkspaces int
}

// ErrTooManyWorkspaces is returned when a new session would exceed the
// configured workspace limit.
var ErrTooManyWorkspaces = errors.New("too many active sessions, please try again later")

// New creates a Server. c, shares and rec may be nil; the matching routes
// then answer with a configuration error.
func New(cfg *config.Config, p provider.Provider, c *cache.Cache, shares share.Store, rec coordinator.Recorder, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:        cfg,
		provider:   p,
		cache:      c,
		shares:     shares,
		recorder:   rec,
		log:        log,
		deck:       &session.StarterDeck{},
		router:     mux.NewRouter(),
	}
	ttl, limit := cfg.Workspaces.IdleTTL, cfg.Workspaces.Max
	if ttl <= 0 {
		ttl = config.DefaultWorkspaceIdleTTL
	}
	if limit <= 0 {
		limit = config.DefaultMaxWorkspaces
	}
	s.maxWorkspaces = limit
	s.workspaces = gocache.New(ttl, ttl/2)
	s.workspaces.OnEvicted(s.evicted)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests, instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/debug", s.handleSuggestion).Methods(http.MethodPost)
	api.HandleFunc("/improve", s.handleSuggestion).Methods(http.MethodPost)
	api.HandleFunc("/cancel/{slot}", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session", s.handleResetSession).Methods(http.MethodDelete)
	api.HandleFunc("/editor", s.handleEditor).Methods(http.MethodGet)
	api.HandleFunc("/editor", s.handleSetEditor).Methods(http.MethodPut)
	api.HandleFunc("/cache", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.handleClearCache).Methods(http.MethodDelete)
	api.HandleFunc("/share", s.handleCreateShare).Methods(http.MethodPost)
	api.HandleFunc("/share/{id}", s.handleGetShare).Methods(http.MethodGet)
	api.HandleFunc("/starter", s.handleStarter).Methods(http.MethodGet)

	r.HandleFunc("/share/{id}", s.handleSharePage).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "provider": s.provider.Name()})
	})

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("listen", s.cfg.Listen).Info("kidcode listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.cancelAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Workspace returns the coordinator for name, creating it on first use.
// Every lookup restarts the idle timer. Idle workspaces expire and have their
// slots cancelled.
func (s *Server) Workspace(name string) (*coordinator.Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.workspaces.Get(name); ok {
		c := v.(*coordinator.Coordinator)
		s.workspaces.SetDefault(name, c)
		return c, nil
	}
	if s.workspaces.ItemCount() >= s.maxWorkspaces {
		s.workspaces.DeleteExpired()
		if s.workspaces.ItemCount() >= s.maxWorkspaces {
			return nil, ErrTooManyWorkspaces
		}
	}
	opts := []coordinator.Option{
		coordinator.WithWorkspace(name),
		coordinator.WithLogger(s.log),
	}
	if s.recorder != nil {
		opts = append(opts, coordinator.WithRecorder(s.recorder))
	}
	c := coordinator.New(s.provider, opts...)
	s.workspaces.SetDefault(name, c)
	workspacesActive.Set(float64(s.workspaces.ItemCount()))
	return c, nil
}

func (s *Server) evicted(name string, v any) {
	cancelSlots(v.(*coordinator.Coordinator))
	workspacesActive.Set(float64(s.workspaces.ItemCount()))
	s.log.WithField("workspace", name).Debug("workspace expired")
}

func (s *Server) cancelAll() {
	for _, item := range s.workspaces.Items() {
		cancelSlots(item.Object.(*coordinator.Coordinator))
	}
}

func cancelSlots(c *coordinator.Coordinator) {
	for _, slot := range models.Slots {
		c.Cancel(slot)
	}
}

func (s *Server) workspaceFor(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	name := strings.TrimSpace(r.Header.Get(SessionHeader))
	if name == "" {
		name = DefaultWorkspace
	}
	if len(name) > maxWorkspaceName {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "session name is too long")
		return nil, false
	}
	c, err := s.Workspace(name)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "too_many_sessions", err.Error())
		return nil, false
	}
	return c, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func writeJSONError(w http.ResponseWriter, code int, typ, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Message: message, Type: typ, Code: code}})
}

// writeError maps err onto the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if msg == "" {
			msg = ae.Error()
		}
		if ae.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterSeconds(ae.RetryAfter))
		}
		writeJSONError(w, ae.HTTPStatus(), string(ae.Kind), msg)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
