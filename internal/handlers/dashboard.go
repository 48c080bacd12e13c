package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/agentsnare/snare-go/internal/db"
	"github.com/agentsnare/snare-go/internal/mitre"
)

// DashboardHandler serves the aggregate views: stats, technique counts, and
// the recent request feed.
type DashboardHandler struct {
	db     *db.DB
	logger *slog.Logger
}

func NewDashboardHandler(database *db.DB, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{db: database, logger: logger}
}

// GetStats handles GET /api/stats
func (dh *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if dh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := dh.db.GetStats(r.Context())
	if err != nil {
		dh.logger.Error("stats query failed", "err", err)
		jsonError(w, "failed to fetch stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetTechniques handles GET /api/techniques
func (dh *DashboardHandler) GetTechniques(w http.ResponseWriter, r *http.Request) {
	if dh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	counts, err := dh.db.TechniqueCounts(r.Context())
	if err != nil {
		dh.logger.Error("technique query failed", "err", err)
		jsonError(w, "failed to fetch techniques", http.StatusInternalServerError)
		return
	}
	if counts == nil {
		counts = []db.TechniqueCount{}
	}
	for i := range counts {
		counts[i].Name = mitre.Name(counts[i].TechniqueID)
		counts[i].Tactic = mitre.Tactic(counts[i].TechniqueID)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(counts)
}

// GetRecentRequests handles GET /api/requests/recent
func (dh *DashboardHandler) GetRecentRequests(w http.ResponseWriter, r *http.Request) {
	if dh.db == nil {
		jsonError(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := queryInt(r, "limit", 50, 500)
	requests, err := dh.db.RecentRequests(r.Context(), limit)
	if err != nil {
		dh.logger.Error("recent requests query failed", "err", err)
		jsonError(w, "failed to fetch requests", http.StatusInternalServerError)
		return
	}
	if requests == nil {
		requests = []db.RequestRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(requests)
}

// queryInt parses an integer query parameter with a default and an upper cap.
func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
