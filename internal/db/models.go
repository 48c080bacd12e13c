package db

import (
	"encoding/json"
	"time"
)

// RequestRecord is one analyzed honeypot request. Records are append-only.
type RequestRecord struct {
	ID                   int64             `json:"id"`
	SessionID            string            `json:"session_id"`
	Timestamp            time.Time         `json:"timestamp"`
	IP                   string            `json:"ip"`
	UserAgent            string            `json:"user_agent"`
	Method               string            `json:"method"`
	Path                 string            `json:"path"`
	QueryParams          map[string]string `json:"query_params"`
	Body                 json.RawMessage   `json:"body,omitempty"`
	Headers              map[string]string `json:"headers"`
	ResponseStatus       int               `json:"response_status"`
	ResponseTimeMs       float64           `json:"response_time_ms"`
	APIKeyStatus         string            `json:"api_key_status"`
	APIKeyUsed           string            `json:"api_key_used,omitempty"`
	SQLInjectionDetected bool              `json:"sql_injection_detected"`
	BotUserAgentDetected bool              `json:"bot_user_agent_detected"`
	TechniqueID          string            `json:"technique_id"`
	VulnerabilityType    string            `json:"vulnerability_type"`
}

// HoneyToken is a planted credential. Attribution fields are written once, at
// the first trigger.
type HoneyToken struct {
	ID                 int        `json:"id"`
	TokenType          string     `json:"token_type"`
	TokenValue         string     `json:"token_value"`
	Triggered          bool       `json:"triggered"`
	TriggeredAt        *time.Time `json:"triggered_at,omitempty"`
	TriggeredByIP      string     `json:"triggered_by_ip,omitempty"`
	TriggeredBySession string     `json:"triggered_by_session,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Operator struct {
	ID          int       `json:"id"`
	GitHubID    int64     `json:"github_id"`
	GitHubLogin string    `json:"github_login"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type OperatorSession struct {
	ID         string    `json:"id"`
	OperatorID int       `json:"operator_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// Stats aggregation types
type Stats struct {
	TotalSessions   int64   `json:"total_sessions"`
	ActiveSessions  int64   `json:"active_sessions"`
	AIAgents        int64   `json:"ai_agents"`
	Scrapers        int64   `json:"scrapers"`
	Humans          int64   `json:"humans"`
	TotalRequests   int64   `json:"total_requests"`
	TokensTriggered int64   `json:"tokens_triggered"`
	AvgScore        float64 `json:"avg_score"`
	MaxScore        int64   `json:"max_score"`
}

type TechniqueCount struct {
	TechniqueID string `json:"technique_id"`
	Name        string `json:"name"`
	Tactic      string `json:"tactic"`
	Count       int64  `json:"count"`
}
