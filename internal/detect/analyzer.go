// Package detect implements the agent-likeness pipeline: per-request
// detectors, the additive scoring engine, and the analyzer that orchestrates
// session state, persistence, and event fan-out.
package detect

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentsnare/snare-go/internal/alert"
	"github.com/agentsnare/snare-go/internal/db"
	"github.com/agentsnare/snare-go/internal/mitre"
	"github.com/agentsnare/snare-go/internal/observability"
	"github.com/agentsnare/snare-go/internal/request"
	"github.com/agentsnare/snare-go/internal/session"
	"github.com/agentsnare/snare-go/internal/sse"
	"github.com/agentsnare/snare-go/internal/tokens"
	"github.com/agentsnare/snare-go/internal/ws"
)

const (
	defaultQueueSize = 1024
	defaultTimeout   = 10 * time.Second
	alertTimeout     = 15 * time.Second
)

// Result is the outcome of analyzing one request.  It is logged and broadcast
// to operators; the honeypot client never sees it.
type Result struct {
	SessionID            string   `json:"session_id"`
	Score                int      `json:"agent_likeness_score"`
	Classification       string   `json:"classification"`
	Reasons              []string `json:"classification_reasons"`
	SQLInjectionDetected bool     `json:"sql_injection_detected"`
	BotUserAgentDetected bool     `json:"bot_user_agent_detected"`
	HoneyTokenTriggered  bool     `json:"honey_token_triggered"`
	TechniqueID          string   `json:"technique_id"`
}

// Options wires an Analyzer.  DB, WS, Hub, Metrics and Alerts may be nil; the
// analyzer degrades to in-memory sessions and skips the missing fan-out.
type Options struct {
	DB      *db.DB
	Memory  *session.MemoryStore
	Tokens  *tokens.Registry
	Logger  *slog.Logger
	WS      *ws.Manager
	Hub     *sse.Hub
	Metrics *observability.Metrics
	Alerts  *alert.Notifier

	QueueSize int
	Timeout   time.Duration
}

// Analyzer classifies request originators.  Handlers enqueue normalized
// requests and return immediately; a pool of workers drains the queue.
type Analyzer struct {
	db       *db.DB
	mem      *session.MemoryStore
	registry *tokens.Registry
	logger   *slog.Logger

	ws      *ws.Manager
	hub     *sse.Hub
	metrics *observability.Metrics
	alerts  *alert.Notifier

	timeout time.Duration
	queue   chan *request.Metadata
	dropped atomic.Int64
}

// NewAnalyzer builds an analyzer from options, filling defaults.
func NewAnalyzer(opts Options) *Analyzer {
	if opts.Memory == nil {
		opts.Memory = session.NewMemoryStore()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Analyzer{
		db:       opts.DB,
		mem:      opts.Memory,
		registry: opts.Tokens,
		logger:   opts.Logger,
		ws:       opts.WS,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		alerts:   opts.Alerts,
		timeout:  opts.Timeout,
		queue:    make(chan *request.Metadata, opts.QueueSize),
	}
}

// Enqueue hands one request to the worker pool without ever blocking the
// caller.  When the queue is full the oldest waiting request is evicted, so a
// flood costs detection coverage instead of memory.
func (a *Analyzer) Enqueue(meta *request.Metadata) {
	for {
		select {
		case a.queue <- meta:
			if a.metrics != nil {
				a.metrics.SetQueueDepth(len(a.queue))
			}
			return
		default:
		}
		select {
		case <-a.queue:
			a.dropped.Add(1)
			a.logger.Debug("analysis queue full, evicted oldest request")
			if a.metrics != nil {
				a.metrics.RecordQueueDrop()
			}
		default:
		}
	}
}

// Dropped reports how many queued requests were evicted so far.
func (a *Analyzer) Dropped() int64 {
	return a.dropped.Load()
}

// Run drains the queue until ctx is cancelled.  Start one goroutine per
// desired worker; workers share the queue and need no coordination.
func (a *Analyzer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case meta := <-a.queue:
			if a.metrics != nil {
				a.metrics.SetQueueDepth(len(a.queue))
			}
			actx, cancel := context.WithTimeout(ctx, a.timeout)
			a.Analyze(actx, meta)
			cancel()
		}
	}
}

// Analyze runs the full pipeline for one request: session lookup, detectors,
// scoring, classification, MITRE mapping, persistence, and fan-out.  Store
// failures are logged and absorbed; the result always reflects the in-memory
// computation at minimum.
func (a *Analyzer) Analyze(ctx context.Context, meta *request.Metadata) *Result {
	started := time.Now()
	now := meta.ReceivedAt
	if now.IsZero() {
		now = started.UTC()
	}

	prior := a.getOrCreate(ctx, meta.IP, meta.UserAgent, now)

	verdicts := Detect(meta)
	matches := a.registry.Check(ctx, meta, prior.ID)
	verdicts.HoneyToken = len(matches) > 0

	arrivals, mean, cv := session.UpdateArrivals(prior.RecentArrivals, now)
	score, reasons := Score(prior, meta, verdicts, cv)
	classification := Classify(score)
	technique := mitre.Map(meta.APIKeyStatus, verdicts.HoneyToken, verdicts.SQLInjection)

	diff := session.Diff{
		Endpoint:              meta.Path,
		Method:                meta.Method,
		LookedAtDocs:          verdicts.DocsPath,
		TriedOpenAPI:          verdicts.OpenAPIPath,
		TriedAdmin:            verdicts.AdminPath,
		TriedInternal:         verdicts.InternalPath,
		SQLInjectionAttempted: verdicts.SQLInjection,
		UsedHoneyToken:        verdicts.HoneyToken,
		Score:                 score,
		Classification:        classification,
		Reasons:               reasons,
		LastActivity:          now,
		MeanInterval:          mean,
		IntervalCV:            cv,
		RecentArrivals:        arrivals,
	}
	merged := a.apply(ctx, prior, diff)

	a.appendRecord(ctx, merged, meta, verdicts, technique)

	result := &Result{
		SessionID:            merged.ID,
		Score:                merged.Score,
		Classification:       merged.Classification,
		Reasons:              merged.Reasons,
		SQLInjectionDetected: verdicts.SQLInjection,
		BotUserAgentDetected: verdicts.BotUserAgent,
		HoneyTokenTriggered:  verdicts.HoneyToken,
		TechniqueID:          technique,
	}

	a.logger.Info("request analyzed",
		"session", shortID(merged.ID),
		"score", result.Score,
		"classification", result.Classification,
		"reasons", strings.Join(result.Reasons, ","),
		"sql_injection", result.SQLInjectionDetected,
		"honey_token", result.HoneyTokenTriggered,
	)

	a.publish(result, merged, meta, matches, prior.Classification)

	if a.metrics != nil {
		a.metrics.RecordAnalysis(result.Classification, time.Since(started))
	}
	return result
}

// getOrCreate resolves the session for the pair, falling back to the
// in-memory store when the database is absent or failing.
func (a *Analyzer) getOrCreate(ctx context.Context, ip, ua string, now time.Time) *session.Snapshot {
	if a.db != nil {
		s, err := a.db.GetOrCreateSession(ctx, ip, ua, now)
		if err == nil {
			return s
		}
		a.logger.Error("session store unavailable, using in-memory fallback", "err", err)
		if a.metrics != nil {
			a.metrics.RecordStoreFailure("get_or_create")
		}
	}
	s, _ := a.mem.GetOrCreate(ctx, ip, ua, now)
	return s
}

// apply persists the diff to whichever store produced the session.  On
// failure the analysis continues with a locally merged snapshot so the result
// and fan-out still carry the session's new state.
func (a *Analyzer) apply(ctx context.Context, prior *session.Snapshot, d session.Diff) *session.Snapshot {
	var merged *session.Snapshot
	var err error
	if a.db != nil {
		merged, err = a.db.ApplySessionDiff(ctx, prior.ID, d)
	} else {
		merged, err = a.mem.Apply(ctx, prior.ID, d)
	}
	if err == nil {
		return merged
	}

	a.logger.Error("session diff not persisted", "session", shortID(prior.ID), "err", err)
	if a.metrics != nil {
		a.metrics.RecordStoreFailure("apply_diff")
	}
	local := prior.Clone()
	session.Merge(local, d)
	return local
}

// appendRecord writes the request record; skipped entirely in degraded mode
// since the in-memory store keeps no request log.
func (a *Analyzer) appendRecord(ctx context.Context, s *session.Snapshot, meta *request.Metadata, v Verdicts, technique string) {
	if a.db == nil {
		return
	}

	rec := &db.RequestRecord{
		SessionID:            s.ID,
		Timestamp:            meta.ReceivedAt,
		IP:                   meta.IP,
		UserAgent:            meta.UserAgent,
		Method:               meta.Method,
		Path:                 meta.Path,
		QueryParams:          meta.Query,
		Body:                 marshalBody(meta.Body),
		Headers:              meta.Headers,
		ResponseStatus:       meta.ResponseStatus,
		ResponseTimeMs:       meta.ResponseTimeMs,
		APIKeyStatus:         meta.APIKeyStatus,
		APIKeyUsed:           meta.APIKeyUsed,
		SQLInjectionDetected: v.SQLInjection,
		BotUserAgentDetected: v.BotUserAgent,
		TechniqueID:          technique,
		VulnerabilityType:    meta.APIKeyStatus + "-api-key-" + s.Classification,
	}
	if err := a.db.InsertRequest(ctx, rec); err != nil {
		a.logger.Error("request record not persisted", "session", shortID(s.ID), "err", err)
		if a.metrics != nil {
			a.metrics.RecordStoreFailure("insert_request")
		}
	}
}

// publish fans the detection out to websocket clients, SSE subscribers,
// metrics, and the alert webhook.
func (a *Analyzer) publish(res *Result, s *session.Snapshot, meta *request.Metadata, matches []tokens.Match, priorClassification string) {
	evt := map[string]any{
		"type":                   "detection",
		"session_id":             s.ID,
		"ip":                     s.IP,
		"user_agent":             s.UserAgent,
		"method":                 meta.Method,
		"path":                   meta.Path,
		"request_count":          s.RequestCount,
		"agent_likeness_score":   res.Score,
		"classification":         res.Classification,
		"classification_reasons": res.Reasons,
		"sql_injection":          res.SQLInjectionDetected,
		"honey_token":            res.HoneyTokenTriggered,
		"technique_id":           res.TechniqueID,
		"timestamp":              meta.ReceivedAt.UTC().Format(time.RFC3339),
	}

	if a.ws != nil {
		a.ws.Broadcast(evt)
	}
	if a.hub != nil {
		if data, err := json.Marshal(evt); err == nil {
			a.hub.Publish(sse.TopicDetections, sse.Event{Type: "detection", Data: data})
		}
	}
	if a.metrics != nil {
		for _, m := range matches {
			a.metrics.RecordTokenTrigger(m.Type)
		}
	}
	if a.alerts == nil {
		return
	}
	for _, m := range matches {
		if m.FirstTrigger {
			go a.alertHoneyToken(m.Type, s.IP, s.ID)
		}
	}
	if res.Classification == session.ClassAIAgent && priorClassification != session.ClassAIAgent {
		go a.alertAgentDetected(s)
	}
}

func (a *Analyzer) alertHoneyToken(tokenType, ip, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := a.alerts.HoneyToken(ctx, tokenType, ip, sessionID); err != nil {
		a.logger.Error("alert delivery failed", "kind", alert.KindHoneyToken, "err", err)
		if a.metrics != nil {
			a.metrics.RecordAlert(alert.KindHoneyToken, "failed")
		}
		return
	}
	if a.metrics != nil {
		a.metrics.RecordAlert(alert.KindHoneyToken, "sent")
	}
}

func (a *Analyzer) alertAgentDetected(s *session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := a.alerts.AgentDetected(ctx, s); err != nil {
		a.logger.Error("alert delivery failed", "kind", alert.KindAgentDetected, "err", err)
		if a.metrics != nil {
			a.metrics.RecordAlert(alert.KindAgentDetected, "failed")
		}
		return
	}
	if a.metrics != nil {
		a.metrics.RecordAlert(alert.KindAgentDetected, "sent")
	}
}

// marshalBody re-encodes the decoded body for the jsonb column; nil stays
// NULL.
func marshalBody(body any) json.RawMessage {
	if body == nil {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	return raw
}

// shortID returns the 8-character log prefix of a session id.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
