package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hephaestus-forge/hephaestus/pkg/analytics"
	"github.com/hephaestus-forge/hephaestus/pkg/audit"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
	"github.com/hephaestus-forge/hephaestus/pkg/service"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
)

// Server adapts the service operations to HTTP.
type Server struct {
	svc      *service.Service
	verifier *keystore.Verifier
	logger   *slog.Logger
	version  string
}

// NewServer creates the HTTP adapter.
func NewServer(svc *service.Service, verifier *keystore.Verifier, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:      svc,
		verifier: verifier,
		logger:   logger.With("component", "api"),
		version:  version,
	}
}

// Handler assembles the route table with request-id, rate-limit, and
// auth middleware applied outermost-first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/quality/guard-rails", s.handleGuardRails)
	mux.HandleFunc("POST /api/v1/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /api/v1/analytics/rankings", s.handleRankings)
	mux.HandleFunc("POST /api/v1/analytics/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /api/v1/tasks/{id}/stream", s.handleTaskStream)

	limiter := NewGlobalRateLimiter(s.svc.Config.RateLimitRPS, s.svc.Config.RateLimitBurst)
	var handler http.Handler = mux
	handler = AuthMiddleware(s.verifier)(handler)
	handler = limiter.Middleware(handler)
	return RequestID(handler)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.svc.Config.ServiceName,
		"version": s.version,
		"endpoints": []string{
			"/health",
			"/api/v1/quality/guard-rails",
			"/api/v1/cleanup",
			"/api/v1/analytics/rankings",
			"/api/v1/analytics/ingest",
			"/api/v1/tasks/{id}",
			"/api/v1/tasks/{id}/stream",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleGuardRails(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	var req service.GuardRailsRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePath("workspace", req.Workspace); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	params := map[string]any{
		"no_format": req.NoFormat, "workspace": req.Workspace,
		"drift_check": req.DriftCheck, "auto_remediate": req.AutoRemediate,
	}

	if err := auth.RequireRole(principal, auth.RoleGuardRails); err != nil {
		s.audit(r.Context(), principal, "rest.guard-rails.run", audit.StatusDenied, params, nil)
		WriteForbidden(w, err.Error())
		return
	}

	s.runAsTask(w, r, principal, "guard-rails", "rest.guard-rails.run", params,
		[]auth.Role{auth.RoleGuardRails},
		func(ctx context.Context, report func(float64)) (map[string]any, error) {
			res, err := s.svc.RunGuardRails(ctx, principal, req, service.NopSink{})
			if err != nil {
				return nil, err
			}
			return toMap(res)
		})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	var req service.CleanupRequest
	if err := decodeBody(r, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePath("root", req.Root); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	params := map[string]any{
		"root": req.Root, "deep_clean": req.DeepClean, "dry_run": req.DryRun,
	}

	if err := auth.RequireRole(principal, auth.RoleCleanup); err != nil {
		s.audit(r.Context(), principal, "rest.cleanup.run", audit.StatusDenied, params, nil)
		WriteForbidden(w, err.Error())
		return
	}

	s.runAsTask(w, r, principal, "cleanup", "rest.cleanup.run", params,
		[]auth.Role{auth.RoleCleanup},
		func(ctx context.Context, report func(float64)) (map[string]any, error) {
			res, err := s.svc.RunCleanup(ctx, principal, req)
			if err != nil {
				return nil, err
			}
			return toMap(res)
		})
}

// runAsTask wraps an operation in a managed task and blocks until it
// finishes or the default task timeout elapses. Timeout maps to 504,
// failure to 500, success to 200 with the task id attached.
func (s *Server) runAsTask(w http.ResponseWriter, r *http.Request, principal *auth.Principal,
	name, operation string, params map[string]any, roles []auth.Role, fn tasks.Func) {

	taskID, err := s.svc.Tasks.Create(r.Context(), name, fn, tasks.CreateOptions{
		Principal:     principal,
		RequiredRoles: roles,
	})
	if err != nil {
		s.audit(r.Context(), principal, operation, audit.StatusFailed, params, map[string]any{"error": err.Error()})
		WriteInternalDetail(w, err.Error())
		return
	}

	timeout := s.svc.Tasks.DefaultTimeout()
	snap, err := s.svc.Tasks.WaitForCompletion(r.Context(), taskID, s.svc.Config.StreamPollEvery, timeout, principal)
	if err != nil {
		var timeoutErr *tasks.TimeoutError
		if errors.As(err, &timeoutErr) {
			s.audit(r.Context(), principal, operation, audit.StatusFailed, params, map[string]any{"error": "timeout", "task_id": taskID})
			WriteGatewayTimeout(w, "Operation timed out")
			return
		}
		s.audit(r.Context(), principal, operation, audit.StatusFailed, params, map[string]any{"error": err.Error(), "task_id": taskID})
		WriteInternal(w, err)
		return
	}
	if snap.State == tasks.StateFailed {
		s.audit(r.Context(), principal, operation, audit.StatusFailed, params, map[string]any{"error": snap.Error, "task_id": taskID})
		WriteInternalDetail(w, snap.Error)
		return
	}

	body := snap.Result
	if body == nil {
		body = map[string]any{}
	}
	body["task_id"] = taskID
	s.audit(r.Context(), principal, operation, audit.StatusSuccess, params, summarize(body))
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	strategy := r.URL.Query().Get("strategy")
	if _, err := analytics.ParseStrategy(strategy); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	limit := intQuery(r, "limit", 10)
	params := map[string]any{"strategy": strategy, "limit": limit}

	res, err := s.svc.Rankings(r.Context(), principal, strategy, limit)
	if err != nil {
		s.writeOperationError(w, r, principal, "rest.analytics.rankings", params, err)
		return
	}
	s.audit(r.Context(), principal, "rest.analytics.rankings", audit.StatusSuccess, params,
		map[string]any{"count": len(res.Rankings), "synthetic": res.Synthetic})
	writeJSON(w, http.StatusOK, res)
}

// handleIngest accepts newline-delimited JSON events.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	params := map[string]any{"content_type": r.Header.Get("Content-Type")}

	session, err := s.svc.NewIngestSession(principal)
	if err != nil {
		s.writeOperationError(w, r, principal, "rest.analytics.ingest", params, err)
		return
	}

	decoder := json.NewDecoder(r.Body)
	for decoder.More() {
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			s.audit(r.Context(), principal, "rest.analytics.ingest", audit.StatusFailed, params, map[string]any{"error": err.Error()})
			WriteBadRequest(w, "request body is not newline-delimited JSON")
			return
		}
		session.Add(r.Context(), raw)
	}

	res := session.Finish(r.Context())
	s.audit(r.Context(), principal, "rest.analytics.ingest", audit.StatusSuccess, params,
		map[string]any{"accepted": res.Accepted, "rejected": res.Rejected})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	snap, err := s.svc.Tasks.Status(r.PathValue("id"), principal)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		WriteNotFound(w, "No such task")
	case errors.Is(err, tasks.ErrAccessDenied):
		WriteForbidden(w, "Task is not visible to this principal")
	case err != nil:
		WriteInternal(w, err)
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}

// writeOperationError maps a facade error to a response and records the
// matching audit status.
func (s *Server) writeOperationError(w http.ResponseWriter, r *http.Request, principal *auth.Principal,
	operation string, params map[string]any, err error) {

	var authzErr *auth.AuthorizationError
	if errors.As(err, &authzErr) {
		s.audit(r.Context(), principal, operation, audit.StatusDenied, params, nil)
		WriteForbidden(w, err.Error())
		return
	}
	s.audit(r.Context(), principal, operation, audit.StatusFailed, params, map[string]any{"error": err.Error()})
	WriteInternalDetail(w, err.Error())
}

func (s *Server) audit(ctx context.Context, principal *auth.Principal, operation string,
	status audit.Status, params, outcome map[string]any) {

	if s.svc.Audit == nil {
		return
	}
	name, keyID := "", ""
	if principal != nil {
		name = principal.Name
		keyID = principal.KeyID
	}
	if err := s.svc.Audit.Record(ctx, name, keyID, operation, status, params, outcome, audit.ProtocolREST); err != nil {
		s.logger.Error("failed to record audit event", "operation", operation, "error", err)
	}
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(out); err != nil {
		return errors.New("request body is not valid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// toMap converts a typed result to the task result shape.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// summarize strips bulky fields from a response body for audit payloads.
func summarize(body map[string]any) map[string]any {
	out := make(map[string]any, 4)
	for _, key := range []string{"success", "duration", "files", "bytes", "task_id", "accepted", "rejected"} {
		if v, ok := body[key]; ok {
			out[key] = v
		}
	}
	return out
}
