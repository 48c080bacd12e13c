package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentsnare/snare-go/internal/session"
)

// ErrNotFound is returned when a queried entity does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a pgx connection pool and provides storage for sessions, request
// records, honey tokens and operator accounts.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates a new DB instance, connects to PostgreSQL, and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Migrate reads and executes the embedded SQL migration files.
func (db *DB) Migrate(ctx context.Context) error {
	sql, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	db.logger.Info("database migrated")

	if err := db.EnsureCurrentAndNextPartitions(ctx); err != nil {
		return fmt.Errorf("ensure partitions: %w", err)
	}

	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// PingContext checks the database connection.
func (db *DB) PingContext(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `id, ip, user_agent, start_time, last_activity, end_time, request_count,
	endpoints_called, methods_used, looked_at_docs, tried_openapi, tried_admin, tried_internal,
	systematic_probing, sql_injection_attempted, used_honey_token, agent_likeness_score,
	classification, classification_reasons, mean_interval_seconds, interval_cv, recent_arrivals`

// GetOrCreateSession returns the active session for (ip, user_agent) in a
// single round trip.  The upsert resets the stored row in place, with a fresh
// id, when its last activity is older than the sliding window; otherwise the
// existing row is returned untouched.  Every SET expression reads the
// pre-update row, so the reset is all-or-nothing under concurrency.
func (db *DB) GetOrCreateSession(ctx context.Context, ip, ua string, now time.Time) (*session.Snapshot, error) {
	cutoff := now.Add(-session.Timeout)
	row := db.Pool.QueryRow(ctx,
		`INSERT INTO sessions (id, ip, user_agent, start_time, last_activity)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (ip, user_agent) DO UPDATE SET
		    id                      = CASE WHEN sessions.last_activity < $5 THEN EXCLUDED.id ELSE sessions.id END,
		    start_time              = CASE WHEN sessions.last_activity < $5 THEN EXCLUDED.start_time ELSE sessions.start_time END,
		    end_time                = CASE WHEN sessions.last_activity < $5 THEN NULL ELSE sessions.end_time END,
		    request_count           = CASE WHEN sessions.last_activity < $5 THEN 0 ELSE sessions.request_count END,
		    endpoints_called        = CASE WHEN sessions.last_activity < $5 THEN '{}'::text[] ELSE sessions.endpoints_called END,
		    methods_used            = CASE WHEN sessions.last_activity < $5 THEN '{}'::text[] ELSE sessions.methods_used END,
		    looked_at_docs          = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.looked_at_docs END,
		    tried_openapi           = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.tried_openapi END,
		    tried_admin             = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.tried_admin END,
		    tried_internal          = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.tried_internal END,
		    systematic_probing      = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.systematic_probing END,
		    sql_injection_attempted = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.sql_injection_attempted END,
		    used_honey_token        = CASE WHEN sessions.last_activity < $5 THEN FALSE ELSE sessions.used_honey_token END,
		    agent_likeness_score    = CASE WHEN sessions.last_activity < $5 THEN 0 ELSE sessions.agent_likeness_score END,
		    classification          = CASE WHEN sessions.last_activity < $5 THEN 'unknown' ELSE sessions.classification END,
		    classification_reasons  = CASE WHEN sessions.last_activity < $5 THEN '{}'::text[] ELSE sessions.classification_reasons END,
		    mean_interval_seconds   = CASE WHEN sessions.last_activity < $5 THEN NULL ELSE sessions.mean_interval_seconds END,
		    interval_cv             = CASE WHEN sessions.last_activity < $5 THEN NULL ELSE sessions.interval_cv END,
		    recent_arrivals         = CASE WHEN sessions.last_activity < $5 THEN '{}'::timestamptz[] ELSE sessions.recent_arrivals END,
		    last_activity           = CASE WHEN sessions.last_activity < $5 THEN EXCLUDED.last_activity ELSE sessions.last_activity END
		 RETURNING `+sessionColumns,
		uuid.NewString(), ip, ua, now, cutoff)
	return scanSession(row)
}

// ApplySessionDiff merges one analysis pass into the stored session and
// returns the merged row.  Collections and reasons union, flags OR, the score
// takes the maximum, the request count increments; systematic probing is
// recomputed from the merged endpoint set.
func (db *DB) ApplySessionDiff(ctx context.Context, id string, d session.Diff) (*session.Snapshot, error) {
	row := db.Pool.QueryRow(ctx,
		`UPDATE sessions SET
		    request_count           = request_count + 1,
		    endpoints_called        = (SELECT COALESCE(array_agg(DISTINCT e), '{}') FROM unnest(endpoints_called || $2::text[]) AS e),
		    methods_used            = (SELECT COALESCE(array_agg(DISTINCT m), '{}') FROM unnest(methods_used || $3::text[]) AS m),
		    looked_at_docs          = looked_at_docs OR $4,
		    tried_openapi           = tried_openapi OR $5,
		    tried_admin             = tried_admin OR $6,
		    tried_internal          = tried_internal OR $7,
		    sql_injection_attempted = sql_injection_attempted OR $8,
		    used_honey_token        = used_honey_token OR $9,
		    systematic_probing      = (SELECT COUNT(DISTINCT e) FROM unnest(endpoints_called || $2::text[]) AS e) > 5,
		    agent_likeness_score    = GREATEST(agent_likeness_score, $10),
		    classification          = $11,
		    classification_reasons  = (SELECT COALESCE(array_agg(DISTINCT r), '{}') FROM unnest(classification_reasons || $12::text[]) AS r),
		    last_activity           = GREATEST(last_activity, $13),
		    end_time                = NULL,
		    mean_interval_seconds   = $14,
		    interval_cv             = $15,
		    recent_arrivals         = $16::timestamptz[]
		 WHERE id = $1
		 RETURNING `+sessionColumns,
		id, []string{d.Endpoint}, []string{d.Method},
		d.LookedAtDocs, d.TriedOpenAPI, d.TriedAdmin, d.TriedInternal,
		d.SQLInjectionAttempted, d.UsedHoneyToken,
		d.Score, d.Classification, d.Reasons, d.LastActivity,
		d.MeanInterval, d.IntervalCV, d.RecentArrivals)
	return scanSession(row)
}

// GetSessionByID retrieves a single session.
func (db *DB) GetSessionByID(ctx context.Context, id string) (*session.Snapshot, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListSessions returns sessions ordered by most recent activity.  An empty
// classification matches all.
func (db *DB) ListSessions(ctx context.Context, classification string, limit, offset int) ([]*session.Snapshot, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE ($1 = '' OR classification = $1)
		 ORDER BY last_activity DESC
		 LIMIT $2 OFFSET $3`,
		classification, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*session.Snapshot
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// EndIdleSessions stamps an end time on sessions idle since before cutoff and
// returns the newly ended ones.
func (db *DB) EndIdleSessions(ctx context.Context, cutoff time.Time) ([]*session.Snapshot, error) {
	rows, err := db.Pool.Query(ctx,
		`UPDATE sessions SET end_time = last_activity
		 WHERE end_time IS NULL AND last_activity < $1
		 RETURNING `+sessionColumns,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ended []*session.Snapshot
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		ended = append(ended, s)
	}
	return ended, rows.Err()
}

// scanSession reads one session row in sessionColumns order.
func scanSession(row pgx.Row) (*session.Snapshot, error) {
	var s session.Snapshot
	var endTime *time.Time
	var mean, cv *float64
	err := row.Scan(
		&s.ID, &s.IP, &s.UserAgent, &s.StartTime, &s.LastActivity, &endTime, &s.RequestCount,
		&s.EndpointsCalled, &s.MethodsUsed, &s.LookedAtDocs, &s.TriedOpenAPI, &s.TriedAdmin,
		&s.TriedInternal, &s.SystematicProbing, &s.SQLInjectionAttempted, &s.UsedHoneyToken,
		&s.Score, &s.Classification, &s.Reasons, &mean, &cv, &s.RecentArrivals,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.EndTime = endTime
	s.MeanInterval = mean
	s.IntervalCV = cv
	return &s, nil
}

// ---------------------------------------------------------------------------
// Request records
// ---------------------------------------------------------------------------

const requestColumns = `id, session_id, timestamp, ip, user_agent, method, path, query_params,
	body, headers, response_status, response_time_ms, api_key_status, api_key_used,
	sql_injection_detected, bot_user_agent_detected, technique_id, vulnerability_type`

// InsertRequest appends one analyzed request record.
func (db *DB) InsertRequest(ctx context.Context, r *RequestRecord) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO requests (session_id, timestamp, ip, user_agent, method, path, query_params,
		    body, headers, response_status, response_time_ms, api_key_status, api_key_used,
		    sql_injection_detected, bot_user_agent_detected, technique_id, vulnerability_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.SessionID, r.Timestamp, r.IP, r.UserAgent, r.Method, r.Path, r.QueryParams,
		r.Body, r.Headers, r.ResponseStatus, r.ResponseTimeMs, r.APIKeyStatus, nullable(r.APIKeyUsed),
		r.SQLInjectionDetected, r.BotUserAgentDetected, r.TechniqueID, r.VulnerabilityType)
	return err
}

// RecentRequests returns the most recent request records across all sessions.
func (db *DB) RecentRequests(ctx context.Context, limit int) ([]RequestRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// RequestsBySession returns a session's request records, newest first.
func (db *DB) RequestsBySession(ctx context.Context, sessionID string, limit int) ([]RequestRecord, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM requests WHERE session_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]RequestRecord, error) {
	var records []RequestRecord
	for rows.Next() {
		var r RequestRecord
		var apiKeyUsed *string
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Timestamp, &r.IP, &r.UserAgent, &r.Method, &r.Path,
			&r.QueryParams, &r.Body, &r.Headers, &r.ResponseStatus, &r.ResponseTimeMs,
			&r.APIKeyStatus, &apiKeyUsed, &r.SQLInjectionDetected, &r.BotUserAgentDetected,
			&r.TechniqueID, &r.VulnerabilityType,
		); err != nil {
			return nil, err
		}
		if apiKeyUsed != nil {
			r.APIKeyUsed = *apiKeyUsed
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ---------------------------------------------------------------------------
// Honey tokens
// ---------------------------------------------------------------------------

// SeedHoneyTokens inserts the catalogue entries that do not exist yet and
// returns how many were added.
func (db *DB) SeedHoneyTokens(ctx context.Context, tokens []HoneyToken) (int, error) {
	added := 0
	for _, t := range tokens {
		tag, err := db.Pool.Exec(ctx,
			`INSERT INTO honey_tokens (token_type, token_value)
			 VALUES ($1, $2)
			 ON CONFLICT (token_value) DO NOTHING`,
			t.TokenType, t.TokenValue)
		if err != nil {
			return added, err
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// CreateHoneyToken inserts a new token and populates its ID and CreatedAt.
func (db *DB) CreateHoneyToken(ctx context.Context, t *HoneyToken) error {
	return db.Pool.QueryRow(ctx,
		`INSERT INTO honey_tokens (token_type, token_value)
		 VALUES ($1, $2) RETURNING id, created_at`,
		t.TokenType, t.TokenValue,
	).Scan(&t.ID, &t.CreatedAt)
}

// ListHoneyTokens returns the full catalogue.
func (db *DB) ListHoneyTokens(ctx context.Context) ([]HoneyToken, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, token_type, token_value, triggered, triggered_at, triggered_by_ip, triggered_by_session, created_at
		 FROM honey_tokens ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []HoneyToken
	for rows.Next() {
		var t HoneyToken
		var byIP *string
		var bySession *string
		if err := rows.Scan(&t.ID, &t.TokenType, &t.TokenValue, &t.Triggered, &t.TriggeredAt, &byIP, &bySession, &t.CreatedAt); err != nil {
			return nil, err
		}
		if byIP != nil {
			t.TriggeredByIP = *byIP
		}
		if bySession != nil {
			t.TriggeredBySession = *bySession
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// TriggerHoneyToken records first-use attribution for a token.  Returns true
// only for the first trigger; later calls leave the row untouched.
func (db *DB) TriggerHoneyToken(ctx context.Context, value, ip, sessionID string, at time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE honey_tokens
		 SET triggered = TRUE, triggered_at = $2, triggered_by_ip = $3, triggered_by_session = $4
		 WHERE token_value = $1 AND NOT triggered`,
		value, at, ip, nullableUUID(sessionID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nullableUUID(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// UpsertOperator inserts or updates an operator based on their GitHub ID.
func (db *DB) UpsertOperator(ctx context.Context, o *Operator) (int, error) {
	var id int
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO operators (github_id, github_login, avatar_url, name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (github_id) DO UPDATE SET
		    github_login = EXCLUDED.github_login,
		    avatar_url = EXCLUDED.avatar_url,
		    name = EXCLUDED.name
		 RETURNING id`,
		o.GitHubID, o.GitHubLogin, o.AvatarURL, o.Name).Scan(&id)
	return id, err
}

// GetOperatorByID retrieves an operator by primary key.
func (db *DB) GetOperatorByID(ctx context.Context, id int) (*Operator, error) {
	var o Operator
	var avatarURL, name *string
	err := db.Pool.QueryRow(ctx,
		`SELECT id, github_id, github_login, avatar_url, name, created_at
		 FROM operators WHERE id = $1`,
		id).Scan(&o.ID, &o.GitHubID, &o.GitHubLogin, &avatarURL, &name, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if avatarURL != nil {
		o.AvatarURL = *avatarURL
	}
	if name != nil {
		o.Name = *name
	}
	return &o, nil
}

// CreateOperatorSession inserts a new dashboard session.
func (db *DB) CreateOperatorSession(ctx context.Context, s *OperatorSession) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO operator_sessions (id, operator_id, expires_at, ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.OperatorID, s.ExpiresAt, s.IP, s.UserAgent)
	return err
}

// GetOperatorSession retrieves a dashboard session by its id.
func (db *DB) GetOperatorSession(ctx context.Context, id string) (*OperatorSession, error) {
	var s OperatorSession
	var ip, ua *string
	err := db.Pool.QueryRow(ctx,
		`SELECT id, operator_id, created_at, expires_at, ip, user_agent
		 FROM operator_sessions WHERE id = $1`,
		id).Scan(&s.ID, &s.OperatorID, &s.CreatedAt, &s.ExpiresAt, &ip, &ua)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ip != nil {
		s.IP = *ip
	}
	if ua != nil {
		s.UserAgent = *ua
	}
	return &s, nil
}

// DeleteOperatorSession removes a dashboard session.
func (db *DB) DeleteOperatorSession(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM operator_sessions WHERE id = $1`, id)
	return err
}

// CleanExpiredOperatorSessions removes all dashboard sessions past expiry.
func (db *DB) CleanExpiredOperatorSessions(ctx context.Context) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM operator_sessions WHERE expires_at < NOW()`)
	return tag.RowsAffected(), err
}

// SaveOperatorToken stores an encrypted GitHub access token.
func (db *DB) SaveOperatorToken(ctx context.Context, operatorID int, encryptedToken string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO operator_tokens (operator_id, encrypted_token, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (operator_id) DO UPDATE SET
		    encrypted_token = EXCLUDED.encrypted_token,
		    updated_at = NOW()`,
		operatorID, encryptedToken)
	return err
}

// GetOperatorToken retrieves an operator's encrypted GitHub access token.
func (db *DB) GetOperatorToken(ctx context.Context, operatorID int) (string, error) {
	var token string
	err := db.Pool.QueryRow(ctx,
		`SELECT encrypted_token FROM operator_tokens WHERE operator_id = $1`,
		operatorID).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return token, nil
}

// ---------------------------------------------------------------------------
// Partition management
// ---------------------------------------------------------------------------

// EnsurePartition creates a monthly partition for the requests table if it
// does not already exist.
func (db *DB) EnsurePartition(ctx context.Context, t time.Time) error {
	year, month, _ := t.Date()
	name := fmt.Sprintf("requests_%d_%02d", year, month)
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	quotedName := pgx.Identifier{name}.Sanitize()
	sql := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF requests FOR VALUES FROM ('%s') TO ('%s')`,
		quotedName, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	_, err := db.Pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	db.logger.Info("partition ensured", "table", name)
	return nil
}

// EnsureCurrentAndNextPartitions creates partitions for the current and next month.
func (db *DB) EnsureCurrentAndNextPartitions(ctx context.Context) error {
	now := time.Now().UTC()
	if err := db.EnsurePartition(ctx, now); err != nil {
		return err
	}
	return db.EnsurePartition(ctx, now.AddDate(0, 1, 0))
}

// MaintainPartitions keeps request partitions ahead of the calendar.  It
// blocks until ctx is cancelled.
func (db *DB) MaintainPartitions(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := db.EnsureCurrentAndNextPartitions(ctx); err != nil {
				db.logger.Error("partition maintenance failed", "err", err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// GetStats returns dashboard aggregates across all sessions and requests.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	activeCutoff := time.Now().UTC().Add(-session.Timeout)
	var s Stats
	err := db.Pool.QueryRow(ctx,
		`SELECT
		    COUNT(*),
		    COUNT(*) FILTER (WHERE end_time IS NULL AND last_activity >= $1),
		    COUNT(*) FILTER (WHERE classification = 'ai_agent'),
		    COUNT(*) FILTER (WHERE classification = 'scraper'),
		    COUNT(*) FILTER (WHERE classification = 'human'),
		    COALESCE((SELECT COUNT(*) FROM requests), 0),
		    COALESCE((SELECT COUNT(*) FROM honey_tokens WHERE triggered), 0),
		    COALESCE(AVG(agent_likeness_score), 0),
		    COALESCE(MAX(agent_likeness_score), 0)
		 FROM sessions`,
		activeCutoff,
	).Scan(&s.TotalSessions, &s.ActiveSessions, &s.AIAgents, &s.Scrapers, &s.Humans,
		&s.TotalRequests, &s.TokensTriggered, &s.AvgScore, &s.MaxScore)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TechniqueCounts returns how often each MITRE technique was observed.
func (db *DB) TechniqueCounts(ctx context.Context) ([]TechniqueCount, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT technique_id, COUNT(*)
		 FROM requests GROUP BY technique_id ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TechniqueCount
	for rows.Next() {
		var c TechniqueCount
		if err := rows.Scan(&c.TechniqueID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
