package session

import (
	"math"
	"time"
)

// Classification labels assigned by the scoring engine.
const (
	ClassUnknown = "unknown"
	ClassHuman   = "human"
	ClassScraper = "scraper"
	ClassAIAgent = "ai_agent"
)

// Timeout is the sliding inactivity window.  A session whose last activity is
// older than this is treated as ended; the next request from the same
// (ip, user_agent) pair starts a fresh session.
const Timeout = 10 * time.Minute

// maxArrivals bounds the arrival history retained per session for interval
// statistics.
const maxArrivals = 20

// Snapshot is one session's full state as seen by the analyzer.  Stores hand
// out copies; mutating a Snapshot never affects stored state.
type Snapshot struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	StartTime    time.Time  `json:"start_time"`
	LastActivity time.Time  `json:"last_activity"`
	EndTime      *time.Time `json:"end_time,omitempty"`

	RequestCount    int      `json:"request_count"`
	EndpointsCalled []string `json:"endpoints_called"`
	MethodsUsed     []string `json:"methods_used"`

	// Behavior flags latch once true and never revert.
	LookedAtDocs          bool `json:"looked_at_docs"`
	TriedOpenAPI          bool `json:"tried_openapi"`
	TriedAdmin            bool `json:"tried_admin"`
	TriedInternal         bool `json:"tried_internal"`
	SystematicProbing     bool `json:"systematic_probing"`
	SQLInjectionAttempted bool `json:"sql_injection_attempted"`
	UsedHoneyToken        bool `json:"used_honey_token"`

	Score          int      `json:"agent_likeness_score"`
	Classification string   `json:"classification"`
	Reasons        []string `json:"classification_reasons"`

	MeanInterval *float64 `json:"mean_interval_seconds,omitempty"`
	IntervalCV   *float64 `json:"interval_cv,omitempty"`

	// RecentArrivals backs the interval statistics; not exposed on the API.
	RecentArrivals []time.Time `json:"-"`
}

// Key returns the store key for an (ip, user_agent) pair.
func Key(ip, ua string) string {
	return ip + "\x00" + ua
}

// Expired reports whether the session's sliding window has elapsed at now.
func (s *Snapshot) Expired(now time.Time) bool {
	return s.LastActivity.Before(now.Add(-Timeout))
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.EndpointsCalled = append([]string(nil), s.EndpointsCalled...)
	out.MethodsUsed = append([]string(nil), s.MethodsUsed...)
	out.Reasons = append([]string(nil), s.Reasons...)
	out.RecentArrivals = append([]time.Time(nil), s.RecentArrivals...)
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.MeanInterval != nil {
		v := *s.MeanInterval
		out.MeanInterval = &v
	}
	if s.IntervalCV != nil {
		v := *s.IntervalCV
		out.IntervalCV = &v
	}
	return &out
}

// New returns a fresh session for the pair with zeroed accumulators.
func New(id, ip, ua string, now time.Time) *Snapshot {
	return &Snapshot{
		ID:              id,
		IP:              ip,
		UserAgent:       ua,
		StartTime:       now,
		LastActivity:    now,
		EndpointsCalled: []string{},
		MethodsUsed:     []string{},
		Classification:  ClassUnknown,
		Reasons:         []string{},
	}
}

// Diff carries the changes one analysis pass makes to a session.  Stores
// merge diffs with operations that stay correct under concurrent analyses of
// the same session: set union for collections and reasons, OR for flags, max
// for the score, increment for the request count.  Scalar fields
// (classification, last activity, interval stats) are last-writer-wins.
type Diff struct {
	Endpoint string
	Method   string

	LookedAtDocs          bool
	TriedOpenAPI          bool
	TriedAdmin            bool
	TriedInternal         bool
	SystematicProbing     bool
	SQLInjectionAttempted bool
	UsedHoneyToken        bool

	Score          int
	Classification string
	Reasons        []string

	LastActivity   time.Time
	MeanInterval   *float64
	IntervalCV     *float64
	RecentArrivals []time.Time
}

// Merge folds one diff into a snapshot using the store merge semantics:
// increment the request count, union collections and reasons, OR the latching
// flags, take the score maximum, recompute systematic probing from the merged
// endpoint set, and overwrite the scalar fields.
func Merge(cur *Snapshot, d Diff) {
	cur.RequestCount++
	cur.EndpointsCalled = UnionStrings(cur.EndpointsCalled, d.Endpoint)
	cur.MethodsUsed = UnionStrings(cur.MethodsUsed, d.Method)

	cur.LookedAtDocs = cur.LookedAtDocs || d.LookedAtDocs
	cur.TriedOpenAPI = cur.TriedOpenAPI || d.TriedOpenAPI
	cur.TriedAdmin = cur.TriedAdmin || d.TriedAdmin
	cur.TriedInternal = cur.TriedInternal || d.TriedInternal
	cur.SQLInjectionAttempted = cur.SQLInjectionAttempted || d.SQLInjectionAttempted
	cur.UsedHoneyToken = cur.UsedHoneyToken || d.UsedHoneyToken
	// Recomputed from the merged endpoint set so the flag tracks the union
	// even when concurrent analyses each saw a partial set.
	cur.SystematicProbing = len(cur.EndpointsCalled) > 5

	if d.Score > cur.Score {
		cur.Score = d.Score
	}
	cur.Reasons = UnionStrings(cur.Reasons, d.Reasons...)
	if d.Classification != "" {
		cur.Classification = d.Classification
	}
	if d.LastActivity.After(cur.LastActivity) {
		cur.LastActivity = d.LastActivity
	}
	cur.EndTime = nil

	if d.RecentArrivals != nil {
		cur.RecentArrivals = append([]time.Time(nil), d.RecentArrivals...)
		cur.MeanInterval = d.MeanInterval
		cur.IntervalCV = d.IntervalCV
	}
}

// UpdateArrivals appends now to the retained arrival history and recomputes
// interval statistics.  Mean requires two arrivals; the coefficient of
// variation requires five.  A zero mean leaves the CV unset.
func UpdateArrivals(prior []time.Time, now time.Time) (arrivals []time.Time, mean, cv *float64) {
	arrivals = append(append([]time.Time(nil), prior...), now)
	if len(arrivals) > maxArrivals {
		arrivals = arrivals[len(arrivals)-maxArrivals:]
	}
	if len(arrivals) < 2 {
		return arrivals, nil, nil
	}

	intervals := make([]float64, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		intervals = append(intervals, arrivals[i].Sub(arrivals[i-1]).Seconds())
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	m := sum / float64(len(intervals))
	mean = &m

	if len(arrivals) < 5 || m <= 0 {
		return arrivals, mean, nil
	}

	var variance float64
	for _, iv := range intervals {
		d := iv - m
		variance += d * d
	}
	variance /= float64(len(intervals))
	c := math.Sqrt(variance) / m
	cv = &c
	return arrivals, mean, cv
}

// UnionStrings merges extras into base preserving first-seen order.
func UnionStrings(base []string, extras ...string) []string {
	seen := make(map[string]bool, len(base)+len(extras))
	out := make([]string, 0, len(base)+len(extras))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extras {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
