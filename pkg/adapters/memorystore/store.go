// Package memorystore provides the SQLite-backed working, episodic and
// semantic memory partitions.
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultLimit bounds episodic and semantic reads that pass no limit.
const DefaultLimit = 10

var _ ports.MemoryStore = (*Store)(nil)

// Clock returns the current time. Tests replace it to drive expiry.
type Clock func() time.Time

// Store implements MemoryStore on a single SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.now = c
	}
}

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &domain.StorageError{Op: "create db directory", Err: err}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, &domain.StorageError{Op: "open db", Err: err}
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &domain.StorageError{Op: "migrate", Err: err}
	}

	logger.Info("memory store initialized", zap.String("db_path", dbPath))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS working_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		UNIQUE(session_id, key)
	);

	CREATE TABLE IF NOT EXISTS episodic_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT,
		conversation_id TEXT,
		event_type TEXT NOT NULL,
		content TEXT NOT NULL,
		outcome TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS semantic_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT UNIQUE NOT NULL,
		content TEXT NOT NULL,
		category TEXT,
		tags TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_working_session ON working_memory(session_id);
	CREATE INDEX IF NOT EXISTS idx_working_expires ON working_memory(expires_at);
	CREATE INDEX IF NOT EXISTS idx_episodic_incident ON episodic_memory(incident_id);
	CREATE INDEX IF NOT EXISTS idx_episodic_conversation ON episodic_memory(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_semantic_category ON semantic_memory(category);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- helpers ---

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(v interface{}) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]interface{}:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(ns sql.NullString) map[string]interface{} {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}

func decodeTags(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(ns.String), &tags); err != nil {
		return nil
	}
	return tags
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func tableFor(kind domain.MemoryKind) (string, error) {
	switch kind {
	case domain.MemoryWorking:
		return "working_memory", nil
	case domain.MemoryEpisodic:
		return "episodic_memory", nil
	case domain.MemorySemantic:
		return "semantic_memory", nil
	default:
		return "", fmt.Errorf("invalid memory type: %q", kind)
	}
}

// Delete removes one entry from a partition and reports whether it existed.
func (s *Store) Delete(ctx context.Context, kind domain.MemoryKind, id int64) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return false, &domain.StorageError{Op: "delete " + string(kind), Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.StorageError{Op: "delete " + string(kind), Err: err}
	}

	s.logger.Info("memory deleted",
		zap.String("memory_type", string(kind)),
		zap.Int64("memory_id", id),
		zap.Bool("deleted", n > 0))
	return n > 0, nil
}

// Counts returns the number of rows in each partition.
func (s *Store) Counts(ctx context.Context) (map[domain.MemoryKind]int64, error) {
	counts := make(map[domain.MemoryKind]int64, len(domain.MemoryKinds))
	for _, kind := range domain.MemoryKinds {
		table, _ := tableFor(kind)
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, &domain.StorageError{Op: "count " + string(kind), Err: err}
		}
		counts[kind] = n
	}
	return counts, nil
}
