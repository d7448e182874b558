package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs the repositories with an embedded SQLite database.
// Entities are stored as JSON documents keyed by id; interactions are
// plain rows so counts can be aggregated in SQL.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    last_seen INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen);

CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    action TEXT NOT NULL,
    context TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_interactions_test ON interactions(test_id);
CREATE INDEX IF NOT EXISTS idx_interactions_test_action ON interactions(test_id, action);

CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    sequence TEXT NOT NULL,
    status TEXT NOT NULL,
    data TEXT NOT NULL,
    enrolled_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_email ON subscriptions(email);
CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
`

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time. A single pooled connection makes
	// concurrent Mutate transactions queue instead of racing read
	// snapshots and failing with SQLITE_BUSY on commit.
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB returns the underlying database connection for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Sessions() SessionRepo           { return &sqlSessions{db: s.db} }
func (s *SQLiteStore) Tests() TestRepo                 { return &sqlTests{db: s.db} }
func (s *SQLiteStore) Interactions() InteractionRepo   { return &sqlInteractions{db: s.db} }
func (s *SQLiteStore) Subscriptions() SubscriptionRepo { return &sqlSubscriptions{db: s.db} }

type sqlSessions struct {
	db *sql.DB
}

func (r *sqlSessions) Get(ctx context.Context, id string) (*Session, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (r *sqlSessions) Mutate(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sess := &Session{ID: id}
	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
		// auto-create
	case err != nil:
		return nil, fmt.Errorf("failed to load session: %w", err)
	default:
		if err := json.Unmarshal([]byte(data), sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
	}

	if err := fn(sess); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, data, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, last_seen = excluded.last_seen`,
		id, string(buf), sess.LastSeenAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return sess, nil
}

func (r *sqlSessions) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlTests struct {
	db *sql.DB
}

func (r *sqlTests) Create(ctx context.Context, t *Test) error {
	buf, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal test: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tests (id, status, data, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, string(t.Status), string(buf), t.CreatedAt.Unix(),
	)
	if err != nil {
		// modernc reports constraint violations as generic errors; a
		// pre-check keeps the sentinel but leaves a small race window.
		if _, getErr := r.Get(ctx, t.ID); getErr == nil {
			return ErrExists
		}
		return fmt.Errorf("failed to insert test: %w", err)
	}
	return nil
}

func (r *sqlTests) Get(ctx context.Context, id string) (*Test, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM tests WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	var t Test
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test: %w", err)
	}
	return &t, nil
}

func (r *sqlTests) List(ctx context.Context) ([]*Test, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM tests ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		var t Test
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal test: %w", err)
		}
		tests = append(tests, &t)
	}
	return tests, rows.Err()
}

func (r *sqlTests) Mutate(ctx context.Context, id string, fn func(*Test) error) (*Test, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM tests WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}
	var t Test
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test: %w", err)
	}

	if err := fn(&t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now()

	buf, err := json.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal test: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE tests SET status = ?, data = ? WHERE id = ?`,
		string(t.Status), string(buf), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit test: %w", err)
	}
	return &t, nil
}

func (r *sqlTests) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE test_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete interactions: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqlInteractions struct {
	db *sql.DB
}

func (r *sqlInteractions) Record(ctx context.Context, in *Interaction) error {
	var contextJSON sql.NullString
	if len(in.Context) > 0 {
		buf, err := json.Marshal(in.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal context: %w", err)
		}
		contextJSON = sql.NullString{String: string(buf), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO interactions (test_id, session_id, variant_id, action, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.TestID, in.SessionID, in.VariantID, in.Action, contextJSON, in.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

func (r *sqlInteractions) CountByVariant(ctx context.Context, testID string) (map[string]VariantCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			variant_id,
			COUNT(CASE WHEN action = 'impression' THEN 1 END) as impressions,
			COUNT(CASE WHEN action = 'click' THEN 1 END) as clicks,
			COUNT(CASE WHEN action = 'conversion' THEN 1 END) as conversions
		FROM interactions
		WHERE test_id = ?
		GROUP BY variant_id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]VariantCounts)
	for rows.Next() {
		var variantID string
		var c VariantCounts
		if err := rows.Scan(&variantID, &c.Impressions, &c.Clicks, &c.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		out[variantID] = c
	}
	return out, rows.Err()
}

func (r *sqlInteractions) List(ctx context.Context, testID string) ([]*Interaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT test_id, session_id, variant_id, action, context, created_at
		 FROM interactions WHERE test_id = ? ORDER BY created_at`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		var in Interaction
		var contextJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&in.TestID, &in.SessionID, &in.VariantID, &in.Action, &contextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &in.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context: %w", err)
			}
		}
		in.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &in)
	}
	return out, rows.Err()
}

type sqlSubscriptions struct {
	db *sql.DB
}

func (r *sqlSubscriptions) Create(ctx context.Context, sub *Subscription) error {
	buf, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, email, sequence, status, data, enrolled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Email, sub.Sequence, string(sub.Status), string(buf), sub.EnrolledAt.Unix(),
	)
	if err != nil {
		if _, getErr := r.Get(ctx, sub.ID); getErr == nil {
			return ErrExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *sqlSubscriptions) Get(ctx context.Context, id string) (*Subscription, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM subscriptions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}

func (r *sqlSubscriptions) FindActive(ctx context.Context, email, sequence string) (*Subscription, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM subscriptions WHERE email = ? AND sequence = ? AND status = 'active' LIMIT 1`,
		email, sequence,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &sub, nil
}

func (r *sqlSubscriptions) ListActive(ctx context.Context) ([]*Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM subscriptions WHERE status = 'active' ORDER BY enrolled_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		var sub Subscription
		if err := json.Unmarshal([]byte(data), &sub); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (r *sqlSubscriptions) Mutate(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM subscriptions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	var sub Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	if err := fn(&sub); err != nil {
		return nil, err
	}

	buf, err := json.Marshal(&sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subscription: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE subscriptions SET status = ?, data = ? WHERE id = ?`,
		string(sub.Status), string(buf), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit subscription: %w", err)
	}
	return &sub, nil
}

func (r *sqlSubscriptions) MarkUnsubscribed(ctx context.Context, email string) (int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM subscriptions WHERE email = ? AND status IN ('active', 'paused')`, email)
	if err != nil {
		return 0, fmt.Errorf("failed to find subscriptions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		_, err := r.Mutate(ctx, id, func(sub *Subscription) error {
			sub.Status = SubUnsubscribed
			return nil
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
