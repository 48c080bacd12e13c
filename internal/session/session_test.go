package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateArrivals(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("single arrival has no stats", func(t *testing.T) {
		arrivals, mean, cv := UpdateArrivals(nil, base)
		assert.Len(t, arrivals, 1)
		assert.Nil(t, mean)
		assert.Nil(t, cv)
	})

	t.Run("two arrivals yield mean only", func(t *testing.T) {
		arrivals, mean, cv := UpdateArrivals([]time.Time{base}, base.Add(10*time.Second))
		assert.Len(t, arrivals, 2)
		require.NotNil(t, mean)
		assert.InDelta(t, 10.0, *mean, 1e-9)
		assert.Nil(t, cv)
	})

	t.Run("regular cadence has near-zero cv", func(t *testing.T) {
		prior := []time.Time{base, base.Add(2 * time.Second), base.Add(4 * time.Second), base.Add(6 * time.Second)}
		_, mean, cv := UpdateArrivals(prior, base.Add(8*time.Second))
		require.NotNil(t, mean)
		require.NotNil(t, cv)
		assert.InDelta(t, 2.0, *mean, 1e-9)
		assert.InDelta(t, 0.0, *cv, 1e-9)
	})

	t.Run("irregular cadence has high cv", func(t *testing.T) {
		prior := []time.Time{base, base.Add(1 * time.Second), base.Add(10 * time.Second), base.Add(11 * time.Second)}
		_, _, cv := UpdateArrivals(prior, base.Add(100*time.Second))
		require.NotNil(t, cv)
		assert.Greater(t, *cv, 0.3)
	})

	t.Run("zero mean leaves cv unset", func(t *testing.T) {
		prior := []time.Time{base, base, base, base}
		_, mean, cv := UpdateArrivals(prior, base)
		require.NotNil(t, mean)
		assert.Zero(t, *mean)
		assert.Nil(t, cv)
	})

	t.Run("history is capped", func(t *testing.T) {
		var prior []time.Time
		for i := 0; i < 30; i++ {
			prior = append(prior, base.Add(time.Duration(i)*time.Second))
		}
		arrivals, _, _ := UpdateArrivals(prior, base.Add(31*time.Second))
		assert.Len(t, arrivals, maxArrivals)
		assert.Equal(t, base.Add(31*time.Second), arrivals[len(arrivals)-1])
	})
}

func TestGetOrCreateIdentity(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.GetOrCreate(ctx, "203.0.113.7", "curl/8.4.0", now)
	require.NoError(t, err)
	assert.Equal(t, ClassUnknown, first.Classification)
	assert.Zero(t, first.RequestCount)

	t.Run("same pair within window reuses session", func(t *testing.T) {
		again, err := store.GetOrCreate(ctx, "203.0.113.7", "curl/8.4.0", now.Add(5*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("different user agent is a different session", func(t *testing.T) {
		other, err := store.GetOrCreate(ctx, "203.0.113.7", "python-requests/2.31.0", now)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("exactly at the window boundary still reuses", func(t *testing.T) {
		edge, err := store.GetOrCreate(ctx, "203.0.113.7", "curl/8.4.0", now.Add(Timeout))
		require.NoError(t, err)
		assert.Equal(t, first.ID, edge.ID)
	})

	t.Run("idle past the window starts fresh", func(t *testing.T) {
		fresh, err := store.GetOrCreate(ctx, "203.0.113.7", "curl/8.4.0", now.Add(11*time.Minute))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, fresh.ID)
		assert.Zero(t, fresh.RequestCount)
		assert.Zero(t, fresh.Score)
		assert.Empty(t, fresh.Reasons)
		assert.Equal(t, ClassUnknown, fresh.Classification)
	})
}

func TestApplyMerge(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap, err := store.GetOrCreate(ctx, "198.51.100.2", "curl/8.4.0", now)
	require.NoError(t, err)

	mean := 2.0
	after, err := store.Apply(ctx, snap.ID, Diff{
		Endpoint:       "/api/docs",
		Method:         "GET",
		LookedAtDocs:   true,
		Score:          35,
		Classification: ClassHuman,
		Reasons:        []string{"docs_first", "bot_user_agent"},
		LastActivity:   now.Add(time.Second),
		RecentArrivals: []time.Time{now, now.Add(time.Second)},
		MeanInterval:   &mean,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, after.RequestCount)
	assert.Equal(t, []string{"/api/docs"}, after.EndpointsCalled)
	assert.Equal(t, []string{"GET"}, after.MethodsUsed)
	assert.True(t, after.LookedAtDocs)
	assert.Equal(t, 35, after.Score)
	assert.Equal(t, ClassHuman, after.Classification)
	assert.Equal(t, []string{"docs_first", "bot_user_agent"}, after.Reasons)
	assert.Equal(t, now.Add(time.Second), after.LastActivity)
	require.NotNil(t, after.MeanInterval)
	assert.InDelta(t, 2.0, *after.MeanInterval, 1e-9)

	// A second pass with a lower score and repeated values must not regress
	// anything.
	after, err = store.Apply(ctx, snap.ID, Diff{
		Endpoint:       "/api/docs",
		Method:         "GET",
		Score:          10,
		Classification: ClassHuman,
		Reasons:        []string{"docs_first"},
		LastActivity:   now.Add(2 * time.Second),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, after.RequestCount)
	assert.Equal(t, []string{"/api/docs"}, after.EndpointsCalled)
	assert.True(t, after.LookedAtDocs, "flags latch")
	assert.Equal(t, 35, after.Score, "score is monotonic")
	assert.Equal(t, []string{"docs_first", "bot_user_agent"}, after.Reasons)
}

func TestApplyUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()

	_, err := store.Apply(context.Background(), "no-such-id", Diff{Endpoint: "/x", Method: "GET"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSystematicProbingTracksEndpointSet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap, err := store.GetOrCreate(ctx, "198.51.100.3", "curl/8.4.0", now)
	require.NoError(t, err)

	paths := []string{"/a", "/b", "/c", "/d", "/e", "/f"}
	for i, p := range paths {
		after, err := store.Apply(ctx, snap.ID, Diff{Endpoint: p, Method: "GET", LastActivity: now})
		require.NoError(t, err)
		if i < 5 {
			assert.False(t, after.SystematicProbing, "still at %d endpoints", i+1)
		} else {
			assert.True(t, after.SystematicProbing, "latches past 5 endpoints")
		}
	}
}

func TestConcurrentGetOrCreateConverges(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	now := time.Now().UTC()

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := store.GetOrCreate(context.Background(), "203.0.113.50", "axios/1.6.2", now)
			assert.NoError(t, err)
			ids <- snap.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	assert.Equal(t, 1, store.Len())
}

func TestConcurrentApplyLosesNothing(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()
	now := time.Now().UTC()

	snap, err := store.GetOrCreate(ctx, "203.0.113.51", "curl/8.4.0", now)
	require.NoError(t, err)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Apply(ctx, snap.ID, Diff{
				Endpoint:     "/api/" + string(rune('a'+i)),
				Method:       "GET",
				Score:        10 + i,
				Reasons:      []string{"admin_probing"},
				LastActivity: now,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := store.Apply(ctx, snap.ID, Diff{Endpoint: "/api/final", Method: "GET", LastActivity: now})
	require.NoError(t, err)

	assert.Equal(t, n+1, final.RequestCount)
	assert.Len(t, final.EndpointsCalled, n+1)
	assert.Equal(t, 10+n-1, final.Score, "max of all applied scores")
	assert.Contains(t, final.Reasons, "admin_probing")
	assert.True(t, final.SystematicProbing)
}

type captureWS struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *captureWS) Broadcast(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, data)
}

type captureCounter struct {
	ended int
}

func (c *captureCounter) RecordSessionsEnded(n int) { c.ended += n }

func TestSweeperEndsIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()

	idle, err := store.GetOrCreate(ctx, "203.0.113.60", "curl/8.4.0", time.Now().UTC().Add(-20*time.Minute))
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "203.0.113.61", "curl/8.4.0", time.Now().UTC())
	require.NoError(t, err)

	ws := &captureWS{}
	counter := &captureCounter{}
	sweeper := NewSweeper(store, ws, counter, discardLogger())

	assert.Equal(t, 1, sweeper.RunOnce(ctx))
	require.Len(t, ws.events, 1)
	assert.Equal(t, "session_ended", ws.events[0]["type"])
	assert.Equal(t, idle.ID, ws.events[0]["session_id"])
	assert.Equal(t, 1, counter.ended)

	// Already ended sessions are not re-announced.
	assert.Zero(t, sweeper.RunOnce(ctx))
	assert.Equal(t, 1, counter.ended)
}

func TestApplyInvariantsRapid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryStore()
		defer store.Stop()
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		snap, err := store.GetOrCreate(ctx, "203.0.113.80", "curl/8.4.0", now)
		require.NoError(rt, err)

		prevScore := 0
		prevEndpoints := 0
		sqlLatched := false

		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			d := Diff{
				Endpoint:              rapid.SampledFrom([]string{"/a", "/b", "/c", "/d", "/e", "/f", "/g"}).Draw(rt, "endpoint"),
				Method:                rapid.SampledFrom([]string{"GET", "POST", "PUT"}).Draw(rt, "method"),
				Score:                 rapid.IntRange(0, 100).Draw(rt, "score"),
				SQLInjectionAttempted: rapid.Bool().Draw(rt, "sql"),
				Classification:        ClassHuman,
				LastActivity:          now.Add(time.Duration(i) * time.Second),
			}
			after, err := store.Apply(ctx, snap.ID, d)
			require.NoError(rt, err)

			if after.Score < prevScore {
				rt.Fatalf("score regressed: %d -> %d", prevScore, after.Score)
			}
			if len(after.EndpointsCalled) < prevEndpoints {
				rt.Fatalf("endpoint set shrank: %d -> %d", prevEndpoints, len(after.EndpointsCalled))
			}
			if sqlLatched && !after.SQLInjectionAttempted {
				rt.Fatalf("sql flag unlatched at step %d", i)
			}
			if after.SystematicProbing != (len(after.EndpointsCalled) > 5) {
				rt.Fatalf("systematic probing out of sync with endpoint set")
			}
			if after.RequestCount != i+1 {
				rt.Fatalf("request count %d after %d applies", after.RequestCount, i+1)
			}

			prevScore = after.Score
			prevEndpoints = len(after.EndpointsCalled)
			sqlLatched = after.SQLInjectionAttempted
		}
	})
}
