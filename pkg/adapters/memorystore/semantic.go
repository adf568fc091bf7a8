package memorystore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aescanero/triage/pkg/domain"
	"go.uber.org/zap"
)

const semanticColumns = `id, key, content, category, tags, metadata, created_at, updated_at, access_count`

// WriteSemantic upserts a knowledge record by key. The access counter and
// creation time survive an overwrite.
func (s *Store) WriteSemantic(ctx context.Context, w domain.SemanticWrite) error {
	if w.Key == "" {
		return fmt.Errorf("semantic key is required")
	}

	tags, err := encodeJSON(w.Tags)
	if err != nil {
		return &domain.StorageError{Op: "encode semantic tags", Err: err}
	}
	metadata, err := encodeJSON(w.Metadata)
	if err != nil {
		return &domain.StorageError{Op: "encode semantic metadata", Err: err}
	}

	now := toNanos(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_memory (key, content, category, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			tags = excluded.tags,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, w.Key, w.Content, nullString(w.Category), tags, metadata, now, now)
	if err != nil {
		return &domain.StorageError{Op: "write semantic", Err: err}
	}

	s.logger.Debug("semantic memory written",
		zap.String("key", w.Key),
		zap.String("category", w.Category))
	return nil
}

// ReadSemantic selects records by exactly one of Key, Category or
// SearchTerm, in that precedence, or the most popular records when none is
// set. Every returned record's access counter is incremented in the same
// transaction, and the returned counts include this read.
func (s *Store) ReadSemantic(ctx context.Context, q domain.SemanticQuery) ([]domain.SemanticRecord, error) {
	limit := limitOrDefault(q.Limit)

	var (
		query string
		args  []interface{}
	)
	switch {
	case q.Key != "":
		query = `SELECT ` + semanticColumns + ` FROM semantic_memory WHERE key = ?`
		args = []interface{}{q.Key}
	case q.Category != "":
		query = `SELECT ` + semanticColumns + ` FROM semantic_memory WHERE category = ?
			ORDER BY access_count DESC, updated_at DESC, id DESC LIMIT ?`
		args = []interface{}{q.Category, limit}
	case q.SearchTerm != "":
		pattern := "%" + escapeLike(q.SearchTerm) + "%"
		query = `SELECT ` + semanticColumns + ` FROM semantic_memory
			WHERE content LIKE ? ESCAPE '\' OR key LIKE ? ESCAPE '\'
			ORDER BY access_count DESC, updated_at DESC, id DESC LIMIT ?`
		args = []interface{}{pattern, pattern, limit}
	default:
		query = `SELECT ` + semanticColumns + ` FROM semantic_memory
			ORDER BY access_count DESC, updated_at DESC, id DESC LIMIT ?`
		args = []interface{}{limit}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StorageError{Op: "read semantic", Err: err}
	}
	defer tx.Rollback()

	records, err := scanSemantic(tx.QueryContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	for i := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE semantic_memory SET access_count = access_count + 1 WHERE id = ?`,
			records[i].ID); err != nil {
			return nil, &domain.StorageError{Op: "bump semantic access", Err: err}
		}
		records[i].AccessCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, &domain.StorageError{Op: "read semantic", Err: err}
	}

	s.logger.Debug("semantic memory read", zap.Int("count", len(records)))
	return records, nil
}

// ListSemantic returns up to limit records by popularity without touching
// their access counters.
func (s *Store) ListSemantic(ctx context.Context, limit int) ([]domain.SemanticRecord, error) {
	return scanSemantic(s.db.QueryContext(ctx, `SELECT `+semanticColumns+` FROM semantic_memory
		ORDER BY access_count DESC, updated_at DESC, id DESC LIMIT ?`, limitOrDefault(limit)))
}

func scanSemantic(rows *sql.Rows, err error) ([]domain.SemanticRecord, error) {
	if err != nil {
		return nil, &domain.StorageError{Op: "read semantic", Err: err}
	}
	defer rows.Close()

	records := make([]domain.SemanticRecord, 0)
	for rows.Next() {
		var (
			r                    domain.SemanticRecord
			category             sql.NullString
			tags, metadata       sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&r.ID, &r.Key, &r.Content, &category, &tags, &metadata,
			&createdAt, &updatedAt, &r.AccessCount); err != nil {
			return nil, &domain.StorageError{Op: "scan semantic", Err: err}
		}
		r.Category = category.String
		r.Tags = decodeTags(tags)
		r.Metadata = decodeMetadata(metadata)
		r.CreatedAt = fromNanos(createdAt)
		r.UpdatedAt = fromNanos(updatedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "read semantic", Err: err}
	}
	return records, nil
}
