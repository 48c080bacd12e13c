package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentsnare/snare-go/internal/db"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const hydrateTimeout = 5 * time.Second

// Manager tracks active WebSocket connections and broadcasts detection events.
type Manager struct {
	mu          sync.RWMutex
	connections []*websocket.Conn
	logger      *slog.Logger
	db          *db.DB
}

// NewManager creates a new WebSocket manager.  database may be nil, in which
// case new connections start empty instead of hydrated.
func NewManager(database *db.DB, logger *slog.Logger) *Manager {
	return &Manager{db: database, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	// Hydrate: send current stats and recent activity
	m.hydrate(conn)

	// Keep connection alive, read messages (we ignore them)
	defer func() {
		m.mu.Lock()
		for i, c := range m.connections {
			if c == conn {
				m.connections = append(m.connections[:i], m.connections[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) hydrate(conn *websocket.Conn) {
	if m.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hydrateTimeout)
	defer cancel()

	// Send aggregate stats
	stats, err := m.db.GetStats(ctx)
	if err == nil {
		m.sendJSON(conn, map[string]any{
			"type":             "stats",
			"total_sessions":   stats.TotalSessions,
			"active_sessions":  stats.ActiveSessions,
			"ai_agents":        stats.AIAgents,
			"scrapers":         stats.Scrapers,
			"humans":           stats.Humans,
			"total_requests":   stats.TotalRequests,
			"tokens_triggered": stats.TokensTriggered,
			"avg_score":        stats.AvgScore,
			"max_score":        stats.MaxScore,
		})
	}

	// Send the most recently active sessions
	sessions, err := m.db.ListSessions(ctx, "", 10, 0)
	if err == nil {
		for i := len(sessions) - 1; i >= 0; i-- {
			s := sessions[i]
			m.sendJSON(conn, map[string]any{
				"type":                   "session",
				"session_id":             s.ID,
				"ip":                     s.IP,
				"user_agent":             s.UserAgent,
				"request_count":          s.RequestCount,
				"agent_likeness_score":   s.Score,
				"classification":         s.Classification,
				"classification_reasons": s.Reasons,
				"last_activity":          s.LastActivity.Format(time.RFC3339),
			})
		}
	}

	// Send recent request records
	requests, err := m.db.RecentRequests(ctx, 20)
	if err == nil {
		for i := len(requests) - 1; i >= 0; i-- {
			r := requests[i]
			m.sendJSON(conn, map[string]any{
				"type":               "request",
				"timestamp":          r.Timestamp.Format(time.RFC3339),
				"session_id":         r.SessionID,
				"ip":                 r.IP,
				"method":             r.Method,
				"path":               r.Path,
				"api_key_status":     r.APIKeyStatus,
				"technique_id":       r.TechniqueID,
				"vulnerability_type": r.VulnerabilityType,
			})
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (m *Manager) Broadcast(data map[string]any) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, len(m.connections))
	copy(conns, m.connections)
	m.mu.RUnlock()

	var dead []*websocket.Conn
	for _, conn := range conns {
		if err := m.sendJSON(conn, data); err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, d := range dead {
			for i, c := range m.connections {
				if c == d {
					m.connections = append(m.connections[:i], m.connections[i+1:]...)
					d.Close()
					break
				}
			}
		}
		m.mu.Unlock()
	}
}

func (m *Manager) sendJSON(conn *websocket.Conn, data map[string]any) error {
	msg, err := json.Marshal(data)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
