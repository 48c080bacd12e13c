// Package alert delivers operator notifications to a configured webhook when
// high-signal detections fire: honey token use and first ai_agent crossings.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentsnare/snare-go/internal/session"
)

const (
	httpTimeout    = 10 * time.Second
	maxResponseLen = 1 << 16
)

// Alert kinds.
const (
	KindHoneyToken    = "honey_token"
	KindAgentDetected = "agent_detected"
)

// Notifier posts JSON alerts to a webhook URL.
type Notifier struct {
	url  string
	http *http.Client
}

// New returns a Notifier for the given webhook URL, or nil when no URL is
// configured so callers can nil-guard the whole feature.
func New(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url: url,
		http: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// HoneyToken reports the first use of a planted token.
func (n *Notifier) HoneyToken(ctx context.Context, tokenType, ip, sessionID string) error {
	return n.post(ctx, map[string]any{
		"kind":       KindHoneyToken,
		"text":       fmt.Sprintf("honey token %s used by %s", tokenType, ip),
		"token_type": tokenType,
		"ip":         ip,
		"session_id": sessionID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// AgentDetected reports a session crossing into the ai_agent classification.
func (n *Notifier) AgentDetected(ctx context.Context, s *session.Snapshot) error {
	return n.post(ctx, map[string]any{
		"kind":       KindAgentDetected,
		"text":       fmt.Sprintf("ai agent detected: %s (%s) score %d", s.IP, s.UserAgent, s.Score),
		"session_id": s.ID,
		"ip":         s.IP,
		"user_agent": s.UserAgent,
		"score":      s.Score,
		"reasons":    strings.Join(s.Reasons, ","),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Notifier) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("alert: post failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseLen))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
