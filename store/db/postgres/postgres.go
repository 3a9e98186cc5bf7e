// Package postgres implements the store driver on PostgreSQL. This is the
// recommended backend for multi-user deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/hrygo/modelpilot/ai/drift"
	"github.com/hrygo/modelpilot/ai/routing"
	"github.com/hrygo/modelpilot/internal/profile"
	"github.com/hrygo/modelpilot/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the PostgreSQL database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}
	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db: pgDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// placeholder returns the n-th positional parameter marker.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

const schema = `
CREATE TABLE IF NOT EXISTS routing_decision (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	worker TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	privacy_forced BOOLEAN NOT NULL DEFAULT FALSE,
	payload JSONB NOT NULL,
	outcome_success BOOLEAN,
	outcome_latency_ms BIGINT,
	outcome_rating INTEGER,
	outcome_completed_ts BIGINT,
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decision_user ON routing_decision (user_id, created_ts);
CREATE INDEX IF NOT EXISTS idx_routing_decision_category ON routing_decision (category, created_ts);

CREATE TABLE IF NOT EXISTS user_profile (
	user_id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	payload JSONB NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS suggestion (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_ts BIGINT NOT NULL,
	resolved_ts BIGINT
);
CREATE INDEX IF NOT EXISTS idx_suggestion_user_status ON suggestion (user_id, status);
`

// Migrate creates the schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate postgres schema")
	}
	return nil
}

func (d *DB) CreateRoutingDecision(ctx context.Context, decision *routing.RoutingDecision) (string, error) {
	payload, err := json.Marshal(decision)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal routing decision")
	}

	stmt := `INSERT INTO routing_decision (id, user_id, category, worker, confidence, privacy_forced, payload, created_ts)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` +
		placeholder(5) + `, ` + placeholder(6) + `, ` + placeholder(7) + `, ` + placeholder(8) + `)`
	_, err = d.db.ExecContext(ctx, stmt,
		decision.ID, decision.UserID, string(decision.Classification.Primary),
		decision.Worker, decision.Confidence, decision.PrivacyForced,
		string(payload), decision.CreatedTs)
	if err != nil {
		return "", errors.Wrap(err, "failed to create routing decision")
	}
	return decision.ID, nil
}

func (d *DB) GetRoutingDecision(ctx context.Context, id string) (*routing.RoutingDecision, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT payload, outcome_success, outcome_latency_ms, outcome_rating, outcome_completed_ts
		FROM routing_decision WHERE id = `+placeholder(1), id)
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
	argIdx := 1
	if find.UserID != nil {
		query += fmt.Sprintf(" AND user_id = %s", placeholder(argIdx))
		args = append(args, *find.UserID)
		argIdx++
	}
	if find.Category != nil {
		query += fmt.Sprintf(" AND category = %s", placeholder(argIdx))
		args = append(args, string(*find.Category))
		argIdx++
	}
	if find.SinceTs != nil {
		query += fmt.Sprintf(" AND created_ts >= %s", placeholder(argIdx))
		args = append(args, *find.SinceTs)
	}
	query += " ORDER BY created_ts ASC, id ASC"
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
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
		SET outcome_success = `+placeholder(1)+`, outcome_latency_ms = `+placeholder(2)+`,
			outcome_rating = `+placeholder(3)+`, outcome_completed_ts = `+placeholder(4)+`
		WHERE id = `+placeholder(5),
		outcome.Success, outcome.LatencyMs, rating, outcome.CompletedTs, id)
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
		`SELECT DISTINCT user_id FROM routing_decision WHERE created_ts >= `+placeholder(1)+` ORDER BY user_id`,
		sinceTs)
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
		`SELECT worker, COUNT(*),
			AVG(CASE WHEN outcome_success THEN 1.0 ELSE 0.0 END),
			AVG(outcome_latency_ms),
			COALESCE(AVG(outcome_rating), 0)
		FROM routing_decision
		WHERE category = `+placeholder(1)+` AND created_ts >= `+placeholder(2)+` AND outcome_completed_ts IS NOT NULL
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
		`SELECT payload FROM user_profile WHERE user_id = `+placeholder(1), userID).Scan(&payload)
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
		VALUES (`+placeholder(1)+`, `+placeholder(2)+`, `+placeholder(3)+`, `+placeholder(4)+`, `+placeholder(5)+`)
		ON CONFLICT (user_id) DO UPDATE SET
			version = EXCLUDED.version,
			payload = EXCLUDED.payload,
			updated_ts = EXCLUDED.updated_ts`,
		stored.UserID, stored.Version, string(payload), stored.CreatedTs, stored.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user profile")
	}
	return &stored, nil
}

func (d *DB) UpdateProfilePreference(ctx context.Context, userID string, category routing.Category, workerID string, expectedVersion int) (*routing.UserProfile, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var payload string
	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT payload, version FROM user_profile WHERE user_id = `+placeholder(1)+` FOR UPDATE`,
		userID).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock user profile")
	}
	if version != expectedVersion {
		return nil, drift.ErrVersionConflict
	}

	var p routing.UserProfile
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal user profile")
	}
	if p.Preferences == nil {
		p.Preferences = make(map[routing.Category]string)
	}
	p.Preferences[category] = workerID
	p.Version = version + 1
	p.UpdatedTs = time.Now().Unix()

	updated, err := json.Marshal(&p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal user profile")
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE user_profile SET version = `+placeholder(1)+`, payload = `+placeholder(2)+`, updated_ts = `+placeholder(3)+`
		WHERE user_id = `+placeholder(4),
		p.Version, string(updated), p.UpdatedTs, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update profile preference")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit profile update")
	}
	return &p, nil
}

func (d *DB) CreateSuggestion(ctx context.Context, s *drift.Suggestion) (string, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal suggestion")
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO suggestion (id, user_id, category, status, payload, created_ts)
		VALUES (`+placeholder(1)+`, `+placeholder(2)+`, `+placeholder(3)+`, `+placeholder(4)+`, `+placeholder(5)+`, `+placeholder(6)+`)`,
		s.ID, s.UserID, string(s.Category), string(s.Status), string(payload), s.CreatedTs)
	if err != nil {
		return "", errors.Wrap(err, "failed to create suggestion")
	}
	return s.ID, nil
}

func (d *DB) GetSuggestion(ctx context.Context, id string) (*drift.Suggestion, error) {
	var payload string
	err := d.db.QueryRowContext(ctx,
		`SELECT payload FROM suggestion WHERE id = `+placeholder(1), id).Scan(&payload)
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
	argIdx := 1
	if find.UserID != nil {
		query += fmt.Sprintf(" AND user_id = %s", placeholder(argIdx))
		args = append(args, *find.UserID)
		argIdx++
	}
	if find.Status != nil {
		query += fmt.Sprintf(" AND status = %s", placeholder(argIdx))
		args = append(args, string(*find.Status))
	}
	query += " ORDER BY created_ts DESC, id ASC"
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
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
	var resolved sql.NullInt64
	if s.ResolvedTs != 0 {
		resolved = sql.NullInt64{Int64: s.ResolvedTs, Valid: true}
	}
	result, err := d.db.ExecContext(ctx,
		`UPDATE suggestion SET status = `+placeholder(1)+`, payload = `+placeholder(2)+`, resolved_ts = `+placeholder(3)+`
		WHERE id = `+placeholder(4),
		string(s.Status), string(payload), resolved, s.ID)
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
	var success sql.NullBool
	var latency, rating, completed sql.NullInt64
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
			Success:     success.Bool,
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
