// Package api exposes the provisioning entry point over HTTP. The upstream
// application calls the sync endpoint once per login or signup, after its
// own identity validation has produced the bearer token we verify here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/dbfleet/internal/auth"
	"github.com/hazyhaar/dbfleet/internal/provision"
	"github.com/hazyhaar/dbfleet/internal/registry"
)

type API struct {
	orch *provision.Orchestrator
	reg  *registry.Registry
	auth *auth.Auth
	log  *slog.Logger
}

func New(orch *provision.Orchestrator, reg *registry.Registry, a *auth.Auth) *API {
	return &API{orch: orch, reg: reg, auth: a, log: slog.Default()}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/databases/sync", a.logged(a.handleSync))
	mux.HandleFunc("GET /api/databases/me", a.logged(a.handleGetMe))
}

type requestIDKey struct{}

// logged tags each request with an id, makes it available to the handler's
// logger, and records method, path, and timing on completion.
func (a *API) logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		start := time.Now()
		next(w, r)
		a.log.Info("http request",
			"request_id", reqID, "method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	}
}

// reqLog returns the API logger bound to the request's id, so handler log
// lines correlate with the completion line.
func (a *API) reqLog(r *http.Request) *slog.Logger {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return a.log.With("request_id", id)
	}
	return a.log
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.reg.HealthCheck(r.Context()); err != nil {
		jsonError(w, "registry unreachable", http.StatusServiceUnavailable)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync is the once-per-authentication entry point: provisions the
// tenant database on first sight, converges its schema otherwise, and
// returns the connection credentials.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	claims, err := a.auth.FromRequest(r)
	if err != nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entry, err := a.orch.GetOrSync(r.Context(), claims.TenantID(), claims.Contact)
	if errors.Is(err, registry.ErrLeaseHeld) {
		jsonError(w, "sync already in progress, retry shortly", http.StatusConflict)
		return
	}
	if err != nil {
		a.reqLog(r).Error("get or sync failed", "tenant", claims.TenantID(), "error", err)
		jsonError(w, "provisioning failed", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, entry)
}

func (a *API) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims, err := a.auth.FromRequest(r)
	if err != nil {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entry, err := a.reg.Get(r.Context(), claims.TenantID())
	if errors.Is(err, registry.ErrNotFound) {
		jsonError(w, "no database provisioned", http.StatusNotFound)
		return
	}
	if err != nil {
		a.reqLog(r).Error("registry lookup failed", "tenant", claims.TenantID(), "error", err)
		jsonError(w, "registry lookup failed", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, entry)
}

// --- Helpers ---

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
