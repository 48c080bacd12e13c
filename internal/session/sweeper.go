package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Ender is the slice of the session store the sweeper needs.
type Ender interface {
	EndIdleSessions(ctx context.Context, cutoff time.Time) ([]*Snapshot, error)
}

// Broadcaster pushes events to connected dashboard clients.
type Broadcaster interface {
	Broadcast(data map[string]any)
}

// Counter records how many sessions each sweep closed.
type Counter interface {
	RecordSessionsEnded(n int)
}

// Sweeper stamps an end time on sessions that sat idle past the sliding
// window and announces them to the dashboard.
type Sweeper struct {
	store    Ender
	ws       Broadcaster // nil when no dashboard is attached
	metrics  Counter     // nil when metrics are not wired
	logger   *slog.Logger
	interval time.Duration
	running  atomic.Bool
	swept    atomic.Int64
}

// NewSweeper creates a sweeper that checks once a minute.
func NewSweeper(store Ender, ws Broadcaster, metrics Counter, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		ws:       ws,
		metrics:  metrics,
		logger:   logger,
		interval: time.Minute,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of sessions ended.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-Timeout)
	ended, err := s.store.EndIdleSessions(ctx, cutoff)
	if err != nil {
		s.logger.Warn("session sweep failed", "err", err)
		return 0
	}

	for _, sess := range ended {
		s.swept.Add(1)
		s.broadcastEnd(sess)
	}
	if len(ended) > 0 {
		if s.metrics != nil {
			s.metrics.RecordSessionsEnded(len(ended))
		}
		s.logger.Info("ended idle sessions", "count", len(ended), "total_swept", s.swept.Load())
	}
	return len(ended)
}

func (s *Sweeper) broadcastEnd(sess *Snapshot) {
	if s.ws == nil {
		return
	}
	event := map[string]any{
		"type":                 "session_ended",
		"session_id":           sess.ID,
		"ip":                   sess.IP,
		"classification":       sess.Classification,
		"agent_likeness_score": sess.Score,
		"request_count":        sess.RequestCount,
	}
	if sess.EndTime != nil {
		event["ended_at"] = sess.EndTime.UTC().Format(time.RFC3339)
	}
	s.ws.Broadcast(event)
}
