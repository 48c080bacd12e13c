package detect

import (
	"github.com/agentsnare/snare-go/internal/request"
	"github.com/agentsnare/snare-go/internal/session"
)

// Reason tags appended by the scoring rules.  Each tag rewards a session at
// most once; repeat behavior is a no-op.
const (
	TagDocsFirst         = "docs_first"
	TagSystematicProbing = "systematic_probing"
	TagAdminProbing      = "admin_probing"
	TagSQLInjection      = "sql_injection"
	TagBotUserAgent      = "bot_user_agent"
	TagMultipleMethods   = "multiple_methods"
	TagHoneyToken        = "honey_token"
	TagHighDiversity     = "high_diversity"
	TagRegularIntervals  = "regular_intervals"
)

// Classification thresholds on the agent-likeness score.
const (
	agentThreshold   = 70
	scraperThreshold = 40
	maxScore         = 100
)

// Score applies the scoring rules in fixed order against the prior session
// state and the current request.  Rules whose tag is already on the session
// are skipped, which keeps the score monotonic and each reward one-shot.
// intervalCV is the arrival-interval coefficient of variation including the
// current request, nil while too few arrivals are retained.
func Score(prior *session.Snapshot, meta *request.Metadata, v Verdicts, intervalCV *float64) (int, []string) {
	score := prior.Score
	reasons := make([]string, 0, len(prior.Reasons)+4)
	reasons = append(reasons, prior.Reasons...)
	have := make(map[string]bool, len(reasons)+4)
	for _, r := range reasons {
		have[r] = true
	}

	endpoints := len(session.UnionStrings(prior.EndpointsCalled, meta.Path))
	methods := len(session.UnionStrings(prior.MethodsUsed, meta.Method))
	newCount := prior.RequestCount + 1

	apply := func(tag string, points int, hit bool) {
		if !hit || have[tag] {
			return
		}
		score += points
		reasons = append(reasons, tag)
		have[tag] = true
	}

	apply(TagDocsFirst, 20, (v.DocsPath || v.OpenAPIPath) && prior.RequestCount < 3)
	apply(TagSystematicProbing, 25, endpoints > 5)
	apply(TagAdminProbing, 15, v.AdminPath || v.InternalPath)
	apply(TagSQLInjection, 25, v.SQLInjection)
	apply(TagBotUserAgent, 15, v.BotUserAgent)
	apply(TagMultipleMethods, 15, methods > 2)
	apply(TagHoneyToken, 30, v.HoneyToken)
	apply(TagHighDiversity, 10, newCount > 3 && float64(endpoints)/float64(newCount) > 0.7)
	apply(TagRegularIntervals, 25, intervalCV != nil && *intervalCV < 0.3 && prior.RequestCount >= 5)

	if score > maxScore {
		score = maxScore
	}
	return score, reasons
}

// Classify maps a score to its label.  Pure function of the score alone.
func Classify(score int) string {
	switch {
	case score >= agentThreshold:
		return session.ClassAIAgent
	case score >= scraperThreshold:
		return session.ClassScraper
	default:
		return session.ClassHuman
	}
}
