// Package triage produces operator-facing session summaries via Claude.
// It is optional: with no credentials configured the endpoint reports itself
// unavailable and the rest of the system is unaffected.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentsnare/snare-go/internal/db"
	"github.com/agentsnare/snare-go/internal/session"
)

const (
	defaultModel        = "claude-sonnet-4-5"
	defaultBedrockModel = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"

	maxDossierRequests = 25
	maxBodyExcerpt     = 240
)

// Report is the structured triage verdict.
type Report struct {
	ThreatLevel        string   `json:"threat_level"`
	Summary            string   `json:"summary"`
	LikelyTooling      string   `json:"likely_tooling"`
	RecommendedActions []string `json:"recommended_actions"`
	Model              string   `json:"model"`
	ResponseTimeMs     float64  `json:"response_time_ms"`
}

// Triager asks Claude to summarize a session's honeypot activity.
type Triager struct {
	client anthropic.Client
	model  anthropic.Model
}

// New picks a backend from the available credentials: a direct API key if
// set, AWS Bedrock otherwise. Returns nil when neither is configured.
func New(apiKey, model string) *Triager {
	switch {
	case apiKey != "":
		if model == "" {
			model = defaultModel
		}
		return &Triager{
			client: anthropic.NewClient(option.WithAPIKey(apiKey)),
			model:  anthropic.Model(model),
		}
	case os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != "":
		if model == "" {
			model = defaultBedrockModel
		}
		return &Triager{
			client: anthropic.NewClient(bedrock.WithLoadDefaultConfig(context.Background())),
			model:  anthropic.Model(model),
		}
	default:
		return nil
	}
}

// Summarize renders the session and its recent requests into a dossier and
// asks the model for a structured triage report.
func (t *Triager) Summarize(ctx context.Context, snap *session.Snapshot, requests []db.RequestRecord) (*Report, error) {
	start := time.Now()

	message, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     t.model,
		MaxTokens: 500,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(dossier(snap, requests))),
		},
	})

	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		return nil, fmt.Errorf("claude triage: %w", err)
	}
	if len(message.Content) == 0 {
		return nil, fmt.Errorf("claude triage: empty response")
	}

	report := parseReport(strings.TrimSpace(message.Content[0].Text))
	report.Model = string(t.model)
	report.ResponseTimeMs = elapsed
	return report, nil
}

// dossier renders session state plus recent requests as plain text. Bodies
// are truncated; they carry attacker-controlled payloads of arbitrary size.
func dossier(snap *session.Snapshot, requests []db.RequestRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session %s\n", snap.ID)
	fmt.Fprintf(&b, "ip=%s user_agent=%q\n", snap.IP, snap.UserAgent)
	fmt.Fprintf(&b, "classification=%s score=%d reasons=[%s]\n",
		snap.Classification, snap.Score, strings.Join(snap.Reasons, ", "))
	fmt.Fprintf(&b, "requests=%d methods=[%s]\n",
		snap.RequestCount, strings.Join(snap.MethodsUsed, ", "))
	fmt.Fprintf(&b, "endpoints=[%s]\n", strings.Join(snap.EndpointsCalled, ", "))
	fmt.Fprintf(&b, "flags: docs=%t openapi=%t admin=%t internal=%t probing=%t sqli=%t honey_token=%t\n",
		snap.LookedAtDocs, snap.TriedOpenAPI, snap.TriedAdmin, snap.TriedInternal,
		snap.SystematicProbing, snap.SQLInjectionAttempted, snap.UsedHoneyToken)
	if snap.MeanInterval != nil {
		fmt.Fprintf(&b, "mean_interval_seconds=%.2f", *snap.MeanInterval)
		if snap.IntervalCV != nil {
			fmt.Fprintf(&b, " interval_cv=%.3f", *snap.IntervalCV)
		}
		b.WriteString("\n")
	}

	if len(requests) > maxDossierRequests {
		requests = requests[:maxDossierRequests]
	}
	if len(requests) > 0 {
		b.WriteString("\nRecent requests (newest first):\n")
	}
	for _, r := range requests {
		fmt.Fprintf(&b, "%s %s %s status=%d key=%s",
			r.Timestamp.UTC().Format("15:04:05"), r.Method, r.Path, r.ResponseStatus, r.APIKeyStatus)
		if r.SQLInjectionDetected {
			b.WriteString(" sqli=true")
		}
		if len(r.Body) > 0 {
			body := string(r.Body)
			if len(body) > maxBodyExcerpt {
				body = body[:maxBodyExcerpt] + "..."
			}
			fmt.Fprintf(&b, " body=%s", body)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// parseReport extracts a Report from model output that may contain extra
// text around the JSON.
func parseReport(content string) *Report {
	var r Report
	if err := json.Unmarshal([]byte(content), &r); err == nil {
		return &r
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &r); err == nil {
			return &r
		}
	}
	// Prose reply: keep it as the summary rather than failing the request.
	if len(content) > 1000 {
		content = content[:1000]
	}
	return &Report{ThreatLevel: "unknown", Summary: content}
}

const systemPrompt = `You are a security analyst triaging activity captured by an API honeypot. The session below was automatically classified; your job is to summarize what the actor did and what the operator should do about it. Respond with a JSON object:
{"threat_level": "low" | "medium" | "high" | "critical", "summary": "2-3 sentence narrative of the activity", "likely_tooling": "best guess at the client (browser, curl, scraper framework, AI agent framework, scanner)", "recommended_actions": ["short imperative steps"]}

Honeypot context: every endpoint is synthetic bait, credentials found in responses are canary tokens, and no real systems are reachable. Only respond with the JSON object, no other text.`
