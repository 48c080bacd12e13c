package triage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsnare/snare-go/internal/db"
	"github.com/agentsnare/snare-go/internal/session"
)

func TestNewWithoutCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_PROFILE", "")

	assert.Nil(t, New("", ""))
	assert.NotNil(t, New("sk-ant-test", ""))
}

func TestParseReport(t *testing.T) {
	r := parseReport(`{"threat_level":"high","summary":"Systematic enumeration.","likely_tooling":"AI agent framework","recommended_actions":["rotate the leaked token"]}`)
	assert.Equal(t, "high", r.ThreatLevel)
	assert.Equal(t, []string{"rotate the leaked token"}, r.RecommendedActions)

	// JSON wrapped in prose still parses.
	r = parseReport("Here is my analysis:\n{\"threat_level\":\"low\",\"summary\":\"Single page view.\"}\nLet me know if you need more.")
	assert.Equal(t, "low", r.ThreatLevel)
	assert.Equal(t, "Single page view.", r.Summary)

	// Pure prose degrades to an unknown-level report, not an error.
	r = parseReport("This looks like a scraper.")
	assert.Equal(t, "unknown", r.ThreatLevel)
	assert.Equal(t, "This looks like a scraper.", r.Summary)
}

func TestDossierRendersSessionAndRequests(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mean := 10.0
	cv := 0.05

	snap := session.New("6a4c9c1e-0000-4000-8000-000000000000", "203.0.113.7", "python-requests/2.31", now)
	snap.Classification = session.ClassAIAgent
	snap.Score = 85
	snap.Reasons = []string{"docs_first", "systematic_probing"}
	snap.RequestCount = 7
	snap.EndpointsCalled = []string{"/docs", "/api/users"}
	snap.MethodsUsed = []string{"GET", "POST"}
	snap.LookedAtDocs = true
	snap.SystematicProbing = true
	snap.MeanInterval = &mean
	snap.IntervalCV = &cv

	body, err := json.Marshal(map[string]string{"q": "' OR 1=1 --"})
	require.NoError(t, err)

	text := dossier(snap, []db.RequestRecord{
		{
			Timestamp:            now,
			Method:               "POST",
			Path:                 "/api/users",
			ResponseStatus:       401,
			APIKeyStatus:         "missing",
			SQLInjectionDetected: true,
			Body:                 body,
		},
	})

	assert.Contains(t, text, "ip=203.0.113.7")
	assert.Contains(t, text, "classification=ai_agent score=85")
	assert.Contains(t, text, "reasons=[docs_first, systematic_probing]")
	assert.Contains(t, text, "mean_interval_seconds=10.00 interval_cv=0.050")
	assert.Contains(t, text, "12:00:00 POST /api/users status=401 key=missing sqli=true")
	assert.Contains(t, text, `' OR 1=1 --`)
}

func TestDossierTruncatesLongBodies(t *testing.T) {
	now := time.Now()
	snap := session.New("id", "198.51.100.2", "curl/8.0", now)

	long := strings.Repeat("A", 5000)
	text := dossier(snap, []db.RequestRecord{
		{Timestamp: now, Method: "POST", Path: "/api/data", Body: json.RawMessage(`"` + long + `"`)},
	})

	assert.Contains(t, text, "...")
	assert.Less(t, len(text), 1500)
}
