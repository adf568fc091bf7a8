package memorystore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aescanero/triage/pkg/domain"
	"go.uber.org/zap"
)

// WriteEpisodic appends a record and returns its id.
func (s *Store) WriteEpisodic(ctx context.Context, w domain.EpisodicWrite) (int64, error) {
	if w.EventType == "" {
		return 0, fmt.Errorf("episodic event type is required")
	}

	metadata, err := encodeJSON(w.Metadata)
	if err != nil {
		return 0, &domain.StorageError{Op: "encode episodic metadata", Err: err}
	}

	now := toNanos(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO episodic_memory
			(incident_id, conversation_id, event_type, content, outcome, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(w.IncidentID), nullString(w.ConversationID), w.EventType, w.Content,
		nullString(w.Outcome), metadata, now, now)
	if err != nil {
		return 0, &domain.StorageError{Op: "write episodic", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.StorageError{Op: "write episodic", Err: err}
	}

	s.logger.Debug("episodic memory written",
		zap.Int64("memory_id", id),
		zap.String("event_type", w.EventType))
	return id, nil
}

// ReadEpisodic returns records matching every non-empty filter field,
// newest first.
func (s *Store) ReadEpisodic(ctx context.Context, f domain.EpisodicFilter) ([]domain.EpisodicRecord, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.IncidentID != "" {
		clauses = append(clauses, "incident_id = ?")
		args = append(args, f.IncidentID)
	}
	if f.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}

	query := `SELECT id, incident_id, conversation_id, event_type, content, outcome, metadata, created_at, updated_at
		FROM episodic_memory`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limitOrDefault(f.Limit))

	records, err := s.queryEpisodic(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("episodic memory read", zap.Int("count", len(records)))
	return records, nil
}

// ListEpisodic returns up to limit records, newest first.
func (s *Store) ListEpisodic(ctx context.Context, limit int) ([]domain.EpisodicRecord, error) {
	return s.ReadEpisodic(ctx, domain.EpisodicFilter{Limit: limit})
}

func (s *Store) queryEpisodic(ctx context.Context, query string, args ...interface{}) ([]domain.EpisodicRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "read episodic", Err: err}
	}
	defer rows.Close()

	records := make([]domain.EpisodicRecord, 0)
	for rows.Next() {
		var (
			r                               domain.EpisodicRecord
			incident, conversation, outcome sql.NullString
			metadata                        sql.NullString
			createdAt, updatedAt            int64
		)
		if err := rows.Scan(&r.ID, &incident, &conversation, &r.EventType, &r.Content,
			&outcome, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, &domain.StorageError{Op: "scan episodic", Err: err}
		}
		r.IncidentID = incident.String
		r.ConversationID = conversation.String
		r.Outcome = outcome.String
		r.Metadata = decodeMetadata(metadata)
		r.CreatedAt = fromNanos(createdAt)
		r.UpdatedAt = fromNanos(updatedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "read episodic", Err: err}
	}
	return records, nil
}
