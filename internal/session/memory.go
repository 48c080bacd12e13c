package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is no longer present, typically
// because the session rotated or was evicted between read and apply.
var ErrNotFound = errors.New("session not found")

const (
	evictInterval = 5 * time.Minute
	// retention keeps ended sessions around for a while so late applies and
	// reads still resolve, then frees the memory.
	retention = time.Hour
)

// MemoryStore is an in-process session store.  It is the fallback when the
// database is unreachable and the fixture store for tests; the merge
// semantics match the SQL store exactly.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]*Snapshot
	byID   map[string]*Snapshot
	stopCh chan struct{}
}

// NewMemoryStore creates a store and starts its eviction loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		byKey:  make(map[string]*Snapshot),
		byID:   make(map[string]*Snapshot),
		stopCh: make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

// Stop halts the eviction goroutine.
func (s *MemoryStore) Stop() {
	select {
	case <-s.stopCh:
		// already stopped
	default:
		close(s.stopCh)
	}
}

// GetOrCreate returns the active session for the pair, creating a fresh one
// when none exists or the previous one sat idle past the sliding window.
func (s *MemoryStore) GetOrCreate(ctx context.Context, ip, ua string, now time.Time) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(ip, ua)
	if cur, ok := s.byKey[key]; ok {
		if !cur.Expired(now) {
			return cur.Clone(), nil
		}
		delete(s.byID, cur.ID)
	}

	snap := New(uuid.NewString(), ip, ua, now)
	s.byKey[key] = snap
	s.byID[snap.ID] = snap
	return snap.Clone(), nil
}

// Apply merges one analysis pass into the stored session and returns the
// merged state.  Returns ErrNotFound when the session id has rotated away.
func (s *MemoryStore) Apply(ctx context.Context, id string, d Diff) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	Merge(cur, d)
	return cur.Clone(), nil
}

// EndIdleSessions stamps an end time on sessions idle since before cutoff and
// returns the newly ended ones.
func (s *MemoryStore) EndIdleSessions(ctx context.Context, cutoff time.Time) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ended []*Snapshot
	for _, cur := range s.byKey {
		if cur.EndTime == nil && cur.LastActivity.Before(cutoff) {
			t := cur.LastActivity
			cur.EndTime = &t
			ended = append(ended, cur.Clone())
		}
	}
	return ended, nil
}

// Len reports the number of tracked sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evict(time.Now())
		}
	}
}

func (s *MemoryStore) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cur := range s.byKey {
		if now.Sub(cur.LastActivity) > retention {
			delete(s.byKey, key)
			delete(s.byID, cur.ID)
		}
	}
}
