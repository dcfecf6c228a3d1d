// Package admin provides the authenticated operations API: election status,
// instance listings, and cache controls.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/crosslane/arb-relay/pkg/election"
	"github.com/crosslane/arb-relay/pkg/logging"
	"github.com/crosslane/arb-relay/pkg/state"
)

var adminLog = logging.WithComponent(logging.LogTypeAdmin, "handler")
var auditLog = logging.WithComponent(logging.LogTypeAdmin, "audit")

// Elector is the leadership surface exposed to operators.
type Elector interface {
	Snapshot() election.Snapshot
	Resign(ctx context.Context) error
}

// Cache is the dedupe cache surface exposed to operators.
type Cache interface {
	CacheSize() int
	Cleanup(ctx context.Context) error
	Clear()
}

// InstanceRegistry lists per-instance status records.
type InstanceRegistry interface {
	List(ctx context.Context) ([]*state.InstanceStatus, error)
}

// Handler provides HTTP endpoints for operating the relay.
type Handler struct {
	elector    Elector
	cache      Cache
	registry   InstanceRegistry
	auth       *AuthMiddleware
	instanceID string
	region     string
	startedAt  time.Time
}

// NewHandler creates an admin handler with authentication. registry may be
// nil when no instance registry is configured. If adminSecret is empty,
// authentication is disabled.
func NewHandler(elector Elector, cache Cache, registry InstanceRegistry, instanceID, region, adminSecret string) *Handler {
	return &Handler{
		elector:    elector,
		cache:      cache,
		registry:   registry,
		auth:       NewAuthMiddleware(adminSecret),
		instanceID: instanceID,
		region:     region,
		startedAt:  time.Now(),
	}
}

// StatusResponse reports this instance's election and cache state.
type StatusResponse struct {
	InstanceID    string `json:"instance_id"`
	Region        string `json:"region"`
	State         string `json:"state"`
	Leader        bool   `json:"leader"`
	Epoch         int64  `json:"epoch"`
	CacheSize     int    `json:"cache_size"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RegisterRoutes registers admin API routes on the given mux.
// All endpoints require authentication when ARB_RELAY_ADMIN_SECRET is set.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/status", h.auth.WrapFunc(h.Status))
	mux.Handle("GET /api/instances", h.auth.WrapFunc(h.Instances))
	mux.Handle("GET /api/cache", h.auth.WrapFunc(h.CacheInfo))
	mux.Handle("POST /api/cache/clear", h.auth.WrapFunc(h.ClearCache))
	mux.Handle("POST /api/maintenance/cleanup", h.auth.WrapFunc(h.RunCleanup))
	mux.Handle("POST /api/election/resign", h.auth.WrapFunc(h.Resign))
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	snap := h.elector.Snapshot()

	h.writeJSON(w, http.StatusOK, StatusResponse{
		InstanceID:    h.instanceID,
		Region:        h.region,
		State:         snap.State,
		Leader:        snap.Leader,
		Epoch:         snap.Epoch,
		CacheSize:     h.cache.CacheSize(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// Instances handles GET /api/instances.
func (h *Handler) Instances(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Instance registry not configured", "")
		return
	}

	instances, err := h.registry.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list instances", err.Error())
		return
	}

	if instances == nil {
		instances = []*state.InstanceStatus{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": instances,
	})
}

// CacheInfo handles GET /api/cache.
func (h *Handler) CacheInfo(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"size": h.cache.CacheSize(),
	})
}

// ClearCache handles POST /api/cache/clear.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := h.cache.CacheSize()
	h.cache.Clear()

	h.auditLogLine(r, "cache.clear", "success", slog.Int(logging.KeyCount, cleared))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cleared": cleared,
	})
}

// RunCleanup handles POST /api/maintenance/cleanup.
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	before := h.cache.CacheSize()
	if err := h.cache.Cleanup(r.Context()); err != nil {
		h.auditLogLine(r, "maintenance.cleanup", "error", slog.String(logging.KeyError, err.Error()))
		h.writeError(w, http.StatusInternalServerError, "Cleanup failed", err.Error())
		return
	}

	removed := before - h.cache.CacheSize()
	h.auditLogLine(r, "maintenance.cleanup", "success", slog.Int(logging.KeyCount, removed))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
		"size":    h.cache.CacheSize(),
	})
}

// Resign handles POST /api/election/resign. Resigning as a follower is a
// no-op that still returns 202, so operators can demote whichever instance
// they reach without checking first.
func (h *Handler) Resign(w http.ResponseWriter, r *http.Request) {
	wasLeader := h.elector.Snapshot().Leader

	if err := h.elector.Resign(r.Context()); err != nil {
		h.auditLogLine(r, "election.resign", "error", slog.String(logging.KeyError, err.Error()))
		h.writeError(w, http.StatusInternalServerError, "Resign failed", err.Error())
		return
	}

	h.auditLogLine(r, "election.resign", "success", slog.Bool("was_leader", wasLeader))
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"resigned":   true,
		"was_leader": wasLeader,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		adminLog.Error("json encode failed", slog.String(logging.KeyError, err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, details string) {
	resp := ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) auditLogLine(r *http.Request, action, result string, extra ...any) {
	remoteAddr := r.Header.Get("X-Forwarded-For")
	if remoteAddr == "" {
		remoteAddr = r.RemoteAddr
	}
	attrs := []any{
		slog.Bool(logging.KeyAudit, true),
		slog.String(logging.KeyAction, action),
		slog.String(logging.KeyResult, result),
		slog.String(logging.KeyRemoteAddr, remoteAddr),
	}
	attrs = append(attrs, extra...)

	switch result {
	case "denied":
		auditLog.Warn("admin action denied", attrs...)
	case "error":
		auditLog.Error("admin action failed", attrs...)
	default:
		auditLog.Info("admin action", attrs...)
	}
}
