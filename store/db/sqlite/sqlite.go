// Package sqlite implements the store driver on SQLite. It is intended for
// development and single-user deployments; concurrent writers should use
// PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/internal/profile"
	"github.com/hrygo/modelpilot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode with a busy timeout avoids most locking issues for a
	// single-writer workload. Pragmas for modernc.org/sqlite are passed with
	// the `_pragma=` prefix.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS routing_decision (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	worker TEXT NOT NULL,
	confidence REAL NOT NULL,
	privacy_forced INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	outcome_success INTEGER,
	outcome_latency_ms INTEGER,
	outcome_rating INTEGER,
	outcome_completed_ts INTEGER,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decision_user ON routing_decision (user_id, created_ts);
CREATE INDEX IF NOT EXISTS idx_routing_decision_category ON routing_decision (category, created_ts);

CREATE TABLE IF NOT EXISTS user_profile (
	user_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestion (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	resolved_ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_suggestion_user_status ON suggestion (user_id, status);
`

// Migrate creates the schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}

func (d *DB) CreateRoutingDecision(ctx context.Context, decision *routing.RoutingDecision) (string, error) {
	payload, err := json.Marshal(decision)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal routing decision")
	}

	stmt := `INSERT INTO routing_decision (id, user_id, category, worker, confidence, privacy_forced, payload, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		decision.ID, decision.UserID, string(decision.Classification.Primary),
		decision.Worker, decision.Confidence, boolToInt(decision.PrivacyForced),
		string(payload), decision.CreatedTs)
	if err != nil {
		return "", errors.Wrap(err, "failed to create routing decision")
	}
	return decision.ID, nil
}

func (d *DB) GetRoutingDecision(ctx context.Context, id string) (*routing.RoutingDecision, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT payload, outcome_success, outcome_latency_ms, outcome_rating, outcome_completed_ts
		FROM routing_decision WHERE id = ?`, id)
	decision, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return decision, err
}

func (d *DB) ListRoutingDecisions(ctx context.Context, find *store.FindRoutingDecision) ([]*routing.RoutingDecision, error) {
	query := `SELECT payload, outcome_success, outcome_latency_ms, outcome_rating, outcome_completed_ts
		FROM routing_decision WHERE 1=1`
	var args []any
	if find.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *find.UserID)
	}
	if find.Category != nil {
		query += " AND category = ?"
		args = append(args, string(*find.Category))
	}
	if find.SinceTs != nil {
		query += " AND created_ts >= ?"
		args = append(args, *find.SinceTs)
	}
	query += " ORDER BY created_ts ASC, id ASC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list routing decisions")
	}
	defer rows.Close()

	var decisions []*routing.RoutingDecision
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating routing decision rows")
	}
	return decisions, nil
}

func (d *DB) UpdateRoutingDecisionOutcome(ctx context.Context, id string, outcome *routing.Outcome) error {
	var rating sql.NullInt64
	if outcome.Rating != nil {
		rating = sql.NullInt64{Int64: int64(*outcome.Rating), Valid: true}
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE routing_decision
		SET outcome_success = ?, outcome_latency_ms = ?, outcome_rating = ?, outcome_completed_ts = ?
		WHERE id = ?`,
		boolToInt(outcome.Success), outcome.LatencyMs, rating, outcome.CompletedTs, id)
	if err != nil {
		return errors.Wrap(err, "failed to update routing decision outcome")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) ListActiveUserIDs(ctx context.Context, sinceTs int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM routing_decision WHERE created_ts >= ? ORDER BY user_id`, sinceTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active user ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating user id rows")
	}
	return ids, nil
}

func (d *DB) GetPerformanceSummary(ctx context.Context, category routing.Category, sinceTs int64) (routing.PerformanceSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT worker, COUNT(*), AVG(outcome_success), AVG(outcome_latency_ms), COALESCE(AVG(outcome_rating), 0)
		FROM routing_decision
		WHERE category = ? AND created_ts >= ? AND outcome_completed_ts IS NOT NULL
		GROUP BY worker`,
		string(category), sinceTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query performance summary")
	}
	defer rows.Close()

	summary := make(routing.PerformanceSummary)
	for rows.Next() {
		var worker string
		var perf routing.WorkerPerformance
		if err := rows.Scan(&worker, &perf.SampleSize, &perf.SuccessRate, &perf.AvgLatency, &perf.AvgRating); err != nil {
			return nil, errors.Wrap(err, "failed to scan performance row")
		}
		summary[worker] = perf
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating performance rows")
	}
	return summary, nil
}

func (d *DB) GetUserProfile(ctx context.Context, userID string) (*routing.UserProfile, error) {
	var payload string
	err := d.db.QueryRowContext(ctx,
		`SELECT payload FROM user_profile WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user profile")
	}
	var p routing.UserProfile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal user profile")
	}
	return &p, nil
}

func (d *DB) UpsertUserProfile(ctx context.Context, p *routing.UserProfile) (*routing.UserProfile, error) {
	now := time.Now().Unix()
	existing, err := d.GetUserProfile(ctx, p.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	stored := *p
	if existing != nil {
		stored.Version = existing.Version + 1
		stored.CreatedTs = existing.CreatedTs
	} else {
		if stored.Version == 0 {
			stored.Version = 1
		}
		stored.CreatedTs = now
	}
	stored.UpdatedTs = now

	payload, err := json.Marshal(&stored)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal user profile")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO user_profile (user_id, version, payload, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_ts = excluded.updated_ts`,
		stored.UserID, stored.Version, string(payload), stored.CreatedTs, stored.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user profile")
	}
	return &stored, nil
}

func (d *DB) UpdateProfilePreference(ctx context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error) {
	p, err := d.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.Version != expectedVersion {
		return nil, drift.ErrVersionConflict
	}
	if p.Preferences == nil {
		p.Preferences = make(map[routing.Category]string)
	}
	p.Preferences[category] = workerID
	p.Version++
	p.UpdatedTs = time.Now().Unix()

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal user profile")
	}
	// The version predicate makes the check-then-write race-safe.
	result, err := d.db.ExecContext(ctx,
		`UPDATE user_profile SET version = ?, payload = ?, updated_ts = ?
		WHERE user_id = ? AND version = ?`,
		p.Version, string(payload), p.UpdatedTs, userID, expectedVersion)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update profile preference")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return nil, drift.ErrVersionConflict
	}
	return p, nil
}

func (d *DB) CreateSuggestion(ctx context.Context, s *drift.Suggestion) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal suggestion")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO suggestion (id, user_id, category, status, payload, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, string(s.Category), string(s.Status), string(payload), s.CreatedTs)
	if err != nil {
		return "", errors.Wrap(err, "failed to create suggestion")
	}
	return s.ID, nil
}

func (d *DB) GetSuggestion(ctx context.Context, id string) (*drift.Suggestion, error) {
	var payload string
	err := d.db.QueryRowContext(ctx,
		`SELECT payload FROM suggestion WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drift.ErrSuggestionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get suggestion")
	}
	var s drift.Suggestion
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal suggestion")
	}
	return &s, nil
}

func (d *DB) ListSuggestions(ctx context.Context, find *store.FindSuggestion) ([]*drift.Suggestion, error) {
	query := `SELECT payload FROM suggestion WHERE 1=1`
	var args []any
	if find.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *find.UserID)
	}
	if find.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*find.Status))
	}
	query += " ORDER BY created_ts DESC, id ASC"
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list suggestions")
	}
	defer rows.Close()

	var suggestions []*drift.Suggestion
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "failed to scan suggestion")
		}
		var s drift.Suggestion
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal suggestion")
		}
		suggestions = append(suggestions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating suggestion rows")
	}
	return suggestions, nil
}

func (d *DB) UpdateSuggestion(ctx context.Context, s *drift.Suggestion) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to marshal suggestion")
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE suggestion SET status = ?, payload = ?, resolved_ts = ? WHERE id = ?`,
		string(s.Status), string(payload), nullableTs(s.ResolvedTs), s.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update suggestion")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return drift.ErrSuggestionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanDecision rebuilds a decision from its payload and outcome columns.
func scanDecision(row scanner) (*routing.RoutingDecision, error) {
	var payload string
	var success, latency, rating, completed sql.NullInt64
	if err := row.Scan(&payload, &success, &latency, &rating, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan routing decision")
	}

	var decision routing.RoutingDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal routing decision")
	}
	if completed.Valid {
		outcome := &routing.Outcome{
			Success:     success.Int64 != 0,
			LatencyMs:   latency.Int64,
			CompletedTs: completed.Int64,
		}
		if rating.Valid {
			r := int(rating.Int64)
			outcome.Rating = &r
		}
		decision.Outcome = outcome
	}
	return &decision, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTs(ts int64) sql.NullInt64 {
	if ts == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ts, Valid: true}
}
