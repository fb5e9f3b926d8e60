package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/gatekeeper/pkg/state"
)

// SchemaVersion is the current audit schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	time_ns INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	action TEXT NOT NULL,
	category TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT,
	context TEXT,
	trust INTEGER NOT NULL,
	risk INTEGER NOT NULL,
	rule_ids TEXT,
	bypassed TEXT,
	override_used BOOLEAN NOT NULL DEFAULT 0,
	engine_error TEXT,
	duration_us INTEGER NOT NULL,
	snapshot TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(time_ns);
CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, time_ns);
CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
`

const columns = `id, time_ns, session_id, turn, action, category, decision, reason, context,
	trust, risk, rule_ids, bypassed, override_used, engine_error, duration_us, snapshot`

// SQLiteConfig configures the SQLite audit store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for the database lock.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore records decisions in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	closeOnce sync.Once

	insertStmt *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewSQLiteStore opens (creating if needed) the audit database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, state.NewStorageError("sqlite", "open", cfg.Path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		logger: slog.Default().With("component", "audit.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug("audit store opened", "path", cfg.Path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return state.NewStorageError("sqlite", "create_schema", s.path, err)
	}
	if _, err := s.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)
		ON CONFLICT(version) DO NOTHING`, SchemaVersion, time.Now().UnixNano()); err != nil {
		return state.NewStorageError("sqlite", "insert_schema_version", s.path, err)
	}
	var version int
	if err := s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version); err != nil {
		return state.NewStorageError("sqlite", "get_schema_version", s.path, err)
	}
	if version != SchemaVersion {
		return state.NewStorageError("sqlite", "schema_version_mismatch", s.path,
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	var err error
	s.insertStmt, err = s.db.Prepare(`INSERT INTO decisions (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return state.NewStorageError("sqlite", "prepare_insert", s.path, err)
	}
	s.pruneStmt, err = s.db.Prepare(`DELETE FROM decisions WHERE time_ns < ?`)
	if err != nil {
		return state.NewStorageError("sqlite", "prepare_prune", s.path, err)
	}
	return nil
}

// Record inserts e. A missing id or time is filled in.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	ruleIDs, err := json.Marshal(e.RuleIDs)
	if err != nil {
		return fmt.Errorf("encode rule ids: %w", err)
	}
	bypassed, err := json.Marshal(e.Bypassed)
	if err != nil {
		return fmt.Errorf("encode bypassed rules: %w", err)
	}

	_, err = s.insertStmt.ExecContext(ctx,
		e.ID, e.Time.UnixNano(), e.SessionID, e.Turn, e.Action, e.Category, e.Decision,
		nullString(e.Reason), nullString(e.Context),
		e.Trust, e.Risk, string(ruleIDs), string(bypassed), e.OverrideUsed,
		nullString(e.EngineError), e.Duration.Microseconds(), nullString(string(e.Snapshot)),
	)
	if err != nil {
		return state.NewStorageError("sqlite", "insert", s.path, err)
	}
	return nil
}

// Query returns the entries matching q, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*Entry, error) {
	where, args := buildWhere(q)
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query := "SELECT " + columns + " FROM decisions" + where +
		fmt.Sprintf(" ORDER BY time_ns DESC, id LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, state.NewStorageError("sqlite", "query", s.path, err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, state.NewStorageError("sqlite", "scan", s.path, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, state.NewStorageError("sqlite", "query", s.path, err)
	}
	return entries, nil
}

// Count returns the number of entries matching q. The limit is ignored.
func (s *SQLiteStore) Count(ctx context.Context, q Query) (int64, error) {
	where, args := buildWhere(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions"+where, args...).Scan(&n); err != nil {
		return 0, state.NewStorageError("sqlite", "count", s.path, err)
	}
	return n, nil
}

// Prune deletes entries older than before and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, before.UnixNano())
	if err != nil {
		return 0, state.NewStorageError("sqlite", "prune", s.path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, state.NewStorageError("sqlite", "prune", s.path, err)
	}
	if n > 0 {
		s.logger.Info("pruned audit entries", "count", n, "before", before)
	}
	return n, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.insertStmt != nil {
			s.insertStmt.Close()
		}
		if s.pruneStmt != nil {
			s.pruneStmt.Close()
		}
		err = s.db.Close()
	})
	return err
}

func buildWhere(q Query) (string, []any) {
	var conditions []string
	var args []any
	if q.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Decision != "" {
		conditions = append(conditions, "decision = ?")
		args = append(args, q.Decision)
	}
	if q.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, q.Action)
	}
	if q.RuleID != "" {
		// rule_ids holds a JSON array of strings.
		conditions = append(conditions, "rule_ids LIKE ?")
		args = append(args, `%"`+q.RuleID+`"%`)
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "time_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		conditions = append(conditions, "time_ns <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                             Entry
		timeNS, durationUS            int64
		reason, ctxText, engErr, snap sql.NullString
		ruleIDs, bypassed             sql.NullString
	)
	if err := rows.Scan(
		&e.ID, &timeNS, &e.SessionID, &e.Turn, &e.Action, &e.Category, &e.Decision,
		&reason, &ctxText, &e.Trust, &e.Risk, &ruleIDs, &bypassed, &e.OverrideUsed,
		&engErr, &durationUS, &snap,
	); err != nil {
		return nil, err
	}
	e.Time = time.Unix(0, timeNS).UTC()
	e.Duration = time.Duration(durationUS) * time.Microsecond
	e.Reason = reason.String
	e.Context = ctxText.String
	e.EngineError = engErr.String
	if snap.Valid && snap.String != "" {
		e.Snapshot = json.RawMessage(snap.String)
	}
	if ruleIDs.Valid {
		if err := json.Unmarshal([]byte(ruleIDs.String), &e.RuleIDs); err != nil {
			return nil, fmt.Errorf("decode rule ids of %s: %w", e.ID, err)
		}
	}
	if bypassed.Valid {
		if err := json.Unmarshal([]byte(bypassed.String), &e.Bypassed); err != nil {
			return nil, fmt.Errorf("decode bypassed rules of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
