// Package httpapi exposes the control plane over HTTP: state/device
// introspection, tool invocation gated by RBAC, rule CRUD, an SSE event
// stream for the UI, recent event history, and the agent command
// endpoint that turns plans or textual intent into supervised execution.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Personaz1/SMARTHOUSE/internal/audit"
	"github.com/Personaz1/SMARTHOUSE/internal/broker"
	"github.com/Personaz1/SMARTHOUSE/internal/dispatch"
	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/history"
	"github.com/Personaz1/SMARTHOUSE/internal/rbac"
	"github.com/Personaz1/SMARTHOUSE/internal/registry"
	"github.com/Personaz1/SMARTHOUSE/internal/rules"
	"github.com/Personaz1/SMARTHOUSE/internal/snapshot"
	"github.com/Personaz1/SMARTHOUSE/internal/supervisor"
	"github.com/Personaz1/SMARTHOUSE/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any write failure at debug
// level. A failure here usually means the client disconnected mid
// response, which is not actionable.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// SnapshotSource provides the current world state.
type SnapshotSource interface {
	Snapshot() snapshot.Snapshot
}

// RuleStore is the subset of rules.Engine the API surfaces.
type RuleStore interface {
	Rules() []rules.Rule
	SetRules([]rules.Rule)
	DeleteRule(id string) bool
}

// PlanExecutor is the subset of supervisor.Supervisor the API surfaces.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, steps []supervisor.Step, dryRun, requireConfirm bool) []supervisor.StepResult
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int

	registry   *registry.Registry
	snapshots  SnapshotSource
	ruleStore  RuleStore
	dispatcher *dispatch.Dispatcher
	plan       PlanExecutor
	rbac       *rbac.RBAC
	audit      *audit.Logger
	bus        *events.Bus
	history    *history.Store
	logger     *slog.Logger

	server *http.Server
}

// New constructs a Server. auditLog may be nil, in which case no audit
// records are written; with a nil hist, /history/events answers 503.
func New(
	address string,
	port int,
	reg *registry.Registry,
	snapshots SnapshotSource,
	ruleStore RuleStore,
	dispatcher *dispatch.Dispatcher,
	plan PlanExecutor,
	policy *rbac.RBAC,
	auditLog *audit.Logger,
	bus *events.Bus,
	hist *history.Store,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = rbac.New(nil)
	}
	return &Server{
		address:    address,
		port:       port,
		registry:   reg,
		snapshots:  snapshots,
		ruleStore:  ruleStore,
		dispatcher: dispatcher,
		plan:       plan,
		rbac:       policy,
		audit:      auditLog,
		bus:        bus,
		history:    hist,
		logger:     logger,
	}
}

// Start begins serving HTTP requests. Blocks until the listener stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /device/{id}", s.handleDevice)
	mux.HandleFunc("POST /tools/{op}", s.handleToolInvoke)
	mux.HandleFunc("GET /rules", s.handleRulesList)
	mux.HandleFunc("POST /rules", s.handleRulesReplace)
	mux.HandleFunc("DELETE /rules/{id}", s.handleRuleDelete)
	mux.HandleFunc("GET /ui/stream", s.handleStream)
	mux.HandleFunc("GET /history/events", s.handleHistoryEvents)
	mux.HandleFunc("POST /agent/command", s.handleAgentCommand)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /ui/stream is long-lived; per-request timeouts live in handlers instead.
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting http api", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "context manager not started")
		return
	}
	writeJSON(w, s.snapshots.Snapshot(), s.logger)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "registry not loaded")
		return
	}
	writeJSON(w, s.registry.All(), s.logger)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "registry not loaded")
		return
	}
	id := r.PathValue("id")
	dev, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown device %q", id))
		return
	}
	writeJSON(w, dev, s.logger)
}

// roleFromRequest reads the caller's role from the X-Role header. An
// absent header yields "anonymous", the least-privileged implicit role,
// which the default policy does not grant any tool.
func roleFromRequest(r *http.Request) string {
	role := r.Header.Get("X-Role")
	if role == "" {
		role = "anonymous"
	}
	return role
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	role := roleFromRequest(r)

	if !s.rbac.IsAllowed(role, op) {
		s.errorResponse(w, http.StatusForbidden, fmt.Sprintf("role %q is not permitted to invoke %q", role, op))
		return
	}

	var args map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	start := time.Now()
	result, err := s.dispatcher.Invoke(r.Context(), op, args)
	latency := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "err"
	}
	if s.audit != nil {
		if logErr := s.audit.Log(role, role, op, args, outcome, latency, ""); logErr != nil {
			s.logger.Warn("audit log write failed", "error", logErr)
		}
	}

	if err != nil {
		s.toolErrorResponse(w, err)
		return
	}
	writeJSON(w, result, s.logger)
}

// toolErrorResponse maps a tool-layer error to the HTTP status kinds §7
// defines: UnknownDevice/WrongType are 4xx (caller error), Timeout and
// TransportError are surfaced with their own codes, everything else is a
// generic 500 ToolFailed.
func (s *Server) toolErrorResponse(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tools.ErrUnknownDevice):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tools.ErrWrongType):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, broker.ErrTimeout):
		s.errorResponse(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, broker.ErrTransport):
		s.errorResponse(w, http.StatusBadGateway, err.Error())
	default:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ruleStore.Rules(), s.logger)
}

func (s *Server) handleRulesReplace(w http.ResponseWriter, r *http.Request) {
	var newRules []rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&newRules); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid rules body")
		return
	}
	s.ruleStore.SetRules(newRules)
	writeJSON(w, map[string]any{"count": len(newRules)}, s.logger)
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.ruleStore.DeleteRule(id) {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown rule %q", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves /ui/stream as Server-Sent Events: one
// "event: <type>\ndata: <json>\n\n" frame per published event, until the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not started")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.bus.Subscribe(events.DefaultBufferSize)
	defer s.bus.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history store not started")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	etype := r.URL.Query().Get("etype")
	writeJSON(w, s.history.Recent(limit, etype), s.logger)
}

// agentCommandRequest is either a structured tool call (Tool set) or a
// textual intent (Text set) to be resolved into a plan, subject to
// dry_run and confirm flags.
type agentCommandRequest struct {
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Text    string         `json:"text,omitempty"`
	DryRun  bool           `json:"dry_run"`
	Confirm bool           `json:"confirm"`
}

func (s *Server) handleAgentCommand(w http.ResponseWriter, r *http.Request) {
	var req agentCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var steps []supervisor.Step
	switch {
	case req.Tool != "":
		steps = []supervisor.Step{{Tool: req.Tool, Args: req.Args}}
	case strings.TrimSpace(req.Text) != "":
		steps = supervisor.PlanFromIntent(req.Text)
	default:
		s.errorResponse(w, http.StatusBadRequest, "request must set either tool or text")
		return
	}

	if len(steps) == 0 {
		writeJSON(w, map[string]any{"results": []supervisor.StepResult{}}, s.logger)
		return
	}

	// require_confirm defaults to true for any critical tool unless the
	// caller has already confirmed.
	requireConfirm := !req.Confirm
	results := s.plan.ExecutePlan(r.Context(), steps, req.DryRun, requireConfirm)
	writeJSON(w, map[string]any{"results": results}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"error": map[string]any{"message": message, "code": code}}, s.logger)
}
