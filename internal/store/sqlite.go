package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/tasktalk/internal/model"
)

// defaultTurnLimit caps GetTurns when the filter sets no limit.
const defaultTurnLimit = 50

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	inMemory := dbPath == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// turnRow mirrors the turns table.
type turnRow struct {
	ID         string    `db:"id"`
	RequestID  string    `db:"request_id"`
	Intent     string    `db:"intent"`
	Locale     string    `db:"locale"`
	Result     string    `db:"result"`
	IssueKey   string    `db:"issue_key"`
	DurationMS int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r turnRow) toModel() model.Turn {
	return model.Turn{
		ID:        r.ID,
		RequestID: r.RequestID,
		Intent:    r.Intent,
		Locale:    r.Locale,
		Result:    r.Result,
		IssueKey:  r.IssueKey,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
		CreatedAt: r.CreatedAt,
	}
}

// RecordTurn appends a turn to the journal. Generates a UUID if ID is
// empty and stamps CreatedAt if it is zero.
func (s *SQLiteStore) RecordTurn(ctx context.Context, turn model.Turn) error {
	if strings.TrimSpace(turn.Intent) == "" {
		return fmt.Errorf("turn intent must not be empty")
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if turn.Result == "" {
		turn.Result = model.TurnResultOK
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, request_id, intent, locale, result,
			issue_key, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.RequestID, turn.Intent, turn.Locale, turn.Result,
		turn.IssueKey, turn.Duration.Milliseconds(), turn.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording turn %s: %w", turn.ID, err)
	}
	return nil
}

// GetTurns retrieves turns matching the filter, newest first.
func (s *SQLiteStore) GetTurns(
	ctx context.Context,
	filter TurnFilter,
) ([]model.Turn, error) {
	where, args := filter.conditions()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTurnLimit
	}
	args = append(args, limit)

	query := "SELECT * FROM turns" + where +
		" ORDER BY created_at DESC, rowid DESC LIMIT ?"

	var rows []turnRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}

	turns := make([]model.Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.toModel())
	}
	return turns, nil
}

// CountTurns returns the number of turns matching the filter, ignoring
// its limit.
func (s *SQLiteStore) CountTurns(ctx context.Context, filter TurnFilter) (int, error) {
	where, args := filter.conditions()

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM turns"+where, args...); err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return count, nil
}

// PruneTurns deletes turns handled before the given time and reports how
// many were removed.
func (s *SQLiteStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM turns WHERE created_at < ?", before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning turns: %w", err)
	}
	return result.RowsAffected()
}

func (f TurnFilter) conditions() (string, []any) {
	var conditions []string
	var args []any

	if f.Intent != nil {
		conditions = append(conditions, "intent = ?")
		args = append(args, *f.Intent)
	}
	if f.FailedOnly {
		conditions = append(conditions, "result <> ?")
		args = append(args, model.TurnResultOK)
	}
	if f.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
