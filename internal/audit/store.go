package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"agentgate/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditLogger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Record is one persisted audit entry.
type Record struct {
	ID        int64
	Category  string
	Action    string
	Verdict   string
	Reason    string
	Rule      string
	CreatedAt time.Time
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		category    TEXT NOT NULL,
		action      TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		reason      TEXT,
		rule        TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_verdict ON audit_log(verdict);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (category, action, verdict, reason, rule)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Category, entry.Action, entry.Verdict, entry.Reason, entry.Rule,
	)
	return err
}

// ListRecent returns the newest entries first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, action, verdict, reason, rule, created_at
		 FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var reason, rule sql.NullString
		if err := rows.Scan(&r.ID, &r.Category, &r.Action, &r.Verdict, &reason, &rule, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		r.Rule = rule.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByVerdict returns how many audit entries exist per verdict.
func (s *SQLiteStore) CountByVerdict(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT verdict, COUNT(*) FROM audit_log GROUP BY verdict`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, err
		}
		counts[verdict] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
