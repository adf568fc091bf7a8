package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"go.uber.org/zap"
)

// WriteWorking upserts a session-scoped value. A positive ttl records an
// absolute expiry instant; zero means the entry never expires.
func (s *Store) WriteWorking(ctx context.Context, sessionID, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &domain.StorageError{Op: "encode working value", Err: err}
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: toNanos(now.Add(ttl)), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO working_memory (session_id, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, sessionID, key, string(data), toNanos(now), expiresAt)
	if err != nil {
		return &domain.StorageError{Op: "write working", Err: err}
	}

	s.logger.Debug("working memory written",
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.Duration("ttl", ttl))
	return nil
}

// ReadWorking sweeps expired entries of every session, then returns the
// value of key, or the whole session mapping when key is empty.
func (s *Store) ReadWorking(ctx context.Context, sessionID, key string) (map[string]interface{}, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StorageError{Op: "read working", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM working_memory WHERE expires_at IS NOT NULL AND expires_at < ?`,
		toNanos(s.now())); err != nil {
		return nil, &domain.StorageError{Op: "sweep working", Err: err}
	}

	var rows *sql.Rows
	if key != "" {
		rows, err = tx.QueryContext(ctx,
			`SELECT key, value FROM working_memory WHERE session_id = ? AND key = ?`, sessionID, key)
	} else {
		rows, err = tx.QueryContext(ctx,
			`SELECT key, value FROM working_memory WHERE session_id = ?`, sessionID)
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "read working", Err: err}
	}
	defer rows.Close()

	memory := make(map[string]interface{})
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, &domain.StorageError{Op: "scan working", Err: err}
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.logger.Warn("skipping undecodable working value",
				zap.String("session_id", sessionID),
				zap.String("key", k),
				zap.Error(err))
			continue
		}
		memory[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "read working", Err: err}
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, &domain.StorageError{Op: "read working", Err: err}
	}

	s.logger.Debug("working memory read",
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.Int("count", len(memory)))
	return memory, nil
}

// ClearWorking deletes every entry of a session.
func (s *Store) ClearWorking(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE session_id = ?`, sessionID); err != nil {
		return &domain.StorageError{Op: "clear working", Err: err}
	}
	s.logger.Info("working memory cleared", zap.String("session_id", sessionID))
	return nil
}

// ListWorking returns up to limit unexpired entries across sessions, newest
// first. It does not sweep.
func (s *Store) ListWorking(ctx context.Context, limit int) ([]domain.WorkingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, key, value, created_at, expires_at
		FROM working_memory
		WHERE expires_at IS NULL OR expires_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, toNanos(s.now()), limitOrDefault(limit))
	if err != nil {
		return nil, &domain.StorageError{Op: "list working", Err: err}
	}
	defer rows.Close()

	entries := make([]domain.WorkingEntry, 0)
	for rows.Next() {
		var (
			e         domain.WorkingEntry
			raw       string
			createdAt int64
			expiresAt sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Key, &raw, &createdAt, &expiresAt); err != nil {
			return nil, &domain.StorageError{Op: "scan working", Err: err}
		}
		if err := json.Unmarshal([]byte(raw), &e.Value); err != nil {
			e.Value = raw
		}
		e.CreatedAt = fromNanos(createdAt)
		if expiresAt.Valid {
			t := fromNanos(expiresAt.Int64)
			e.ExpiresAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list working", Err: err}
	}
	return entries, nil
}
