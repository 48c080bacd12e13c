package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentsnare/snare-go/internal/db"
	snaredns "github.com/agentsnare/snare-go/internal/dns"
	"github.com/agentsnare/snare-go/internal/triage"
)

// SessionHandler serves per-session views and the triage endpoint.
type SessionHandler struct {
	db       *db.DB
	resolver *snaredns.Resolver
	triager  *triage.Triager // nil when triage is not configured
	logger   *slog.Logger
}

func NewSessionHandler(database *db.DB, resolver *snaredns.Resolver, triager *triage.Triager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{db: database, resolver: resolver, triager: triager, logger: logger}
}

// getSessionID extracts and validates the session id path parameter.
func (sh *SessionHandler) getSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		jsonError(w, "invalid session ID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// ListSessions handles GET /api/sessions?classification=&limit=&offset=
func (sh *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if sh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := queryInt(r, "limit", 50, 500)
	offset := queryInt(r, "offset", 0, 1<<20)
	classification := r.URL.Query().Get("classification")

	sessions, err := sh.db.ListSessions(r.Context(), classification, limit, offset)
	if err != nil {
		sh.logger.Error("session list failed", "err", err)
		jsonError(w, "failed to fetch sessions", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// GetSession handles GET /api/sessions/{id}
func (sh *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if sh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := sh.getSessionID(w, r)
	if !ok {
		return
	}

	snap, err := sh.db.GetSessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "session not found", http.StatusNotFound)
			return
		}
		sh.logger.Error("session fetch failed", "id", id, "err", err)
		jsonError(w, "failed to fetch session", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"session": snap}
	if names := sh.resolver.Reverse(r.Context(), snap.IP); len(names) > 0 {
		resp["reverse_dns"] = names
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetSessionRequests handles GET /api/sessions/{id}/requests
func (sh *SessionHandler) GetSessionRequests(w http.ResponseWriter, r *http.Request) {
	if sh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := sh.getSessionID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 100, 1000)
	requests, err := sh.db.RequestsBySession(r.Context(), id, limit)
	if err != nil {
		sh.logger.Error("session requests query failed", "id", id, "err", err)
		jsonError(w, "failed to fetch requests", http.StatusInternalServerError)
		return
	}
	if requests == nil {
		requests = []db.RequestRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

// TriageSession handles POST /api/sessions/{id}/triage
func (sh *SessionHandler) TriageSession(w http.ResponseWriter, r *http.Request) {
	if sh.triager == nil {
		jsonError(w, "triage not configured", http.StatusServiceUnavailable)
		return
	}
	if sh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	id, ok := sh.getSessionID(w, r)
	if !ok {
		return
	}

	snap, err := sh.db.GetSessionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "session not found", http.StatusNotFound)
			return
		}
		sh.logger.Error("session fetch failed", "id", id, "err", err)
		jsonError(w, "failed to fetch session", http.StatusInternalServerError)
		return
	}

	requests, err := sh.db.RequestsBySession(r.Context(), id, 25)
	if err != nil {
		// Triage can still run on session state alone.
		sh.logger.Warn("session requests unavailable for triage", "id", id, "err", err)
	}

	report, err := sh.triager.Summarize(r.Context(), snap, requests)
	if err != nil {
		sh.logger.Error("triage failed", "id", id, "err", err)
		jsonError(w, "triage failed", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
