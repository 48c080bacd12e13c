package detect

import (
	"encoding/json"

	"github.com/agentsnare/snare-go/internal/patterns"
	"github.com/agentsnare/snare-go/internal/request"
)

// Verdicts are the per-request detector outcomes the scoring engine consumes.
// HoneyToken is filled by the analyzer from the token registry; the rest come
// from pure pattern matching.
type Verdicts struct {
	SQLInjection bool
	BotUserAgent bool
	HoneyToken   bool

	DocsPath     bool
	OpenAPIPath  bool
	AdminPath    bool
	InternalPath bool
}

// Detect runs the pure detectors against one normalized request.
func Detect(meta *request.Metadata) Verdicts {
	return Verdicts{
		SQLInjection: detectSQLInjection(meta.Query, meta.Body),
		BotUserAgent: patterns.MatchBotUserAgent(meta.UserAgent),
		DocsPath:     patterns.IsDocsPath(meta.Path),
		OpenAPIPath:  patterns.IsOpenAPIPath(meta.Path),
		AdminPath:    patterns.IsAdminPath(meta.Path),
		InternalPath: patterns.IsInternalPath(meta.Path),
	}
}

// detectSQLInjection merges query parameters with the decoded body, serializes
// the result, and tests the pattern table against the text.  Non-object bodies
// (bare strings, arrays) are appended to the scanned text so payloads smuggled
// outside key-value structure are still caught.
func detectSQLInjection(query map[string]string, body any) bool {
	merged := make(map[string]any, len(query)+8)
	for k, v := range query {
		merged[k] = v
	}

	var extra any
	switch b := body.(type) {
	case nil:
	case map[string]any:
		for k, v := range b {
			merged[k] = v
		}
	case map[string]string:
		for k, v := range b {
			merged[k] = v
		}
	default:
		extra = body
	}

	text, err := json.Marshal(merged)
	if err != nil {
		return false
	}
	haystack := string(text)
	if extra != nil {
		if raw, err := json.Marshal(extra); err == nil {
			haystack += string(raw)
		}
	}
	return patterns.MatchSQLInjection(haystack)
}
