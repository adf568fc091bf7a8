package ports

import (
	"context"
	"time"

	"github.com/aescanero/triage/pkg/domain"
)

// RunStore archives finished run snapshots.
type RunStore interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
	Get(ctx context.Context, runID string) (*domain.Snapshot, error)
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context, limit int) ([]*domain.Snapshot, error)
}

// MemoryStore is the three-partition memory contract.
type MemoryStore interface {
	WriteWorking(ctx context.Context, sessionID, key string, value interface{}, ttl time.Duration) error
	ReadWorking(ctx context.Context, sessionID, key string) (map[string]interface{}, error)
	ClearWorking(ctx context.Context, sessionID string) error

	WriteEpisodic(ctx context.Context, w domain.EpisodicWrite) (int64, error)
	ReadEpisodic(ctx context.Context, f domain.EpisodicFilter) ([]domain.EpisodicRecord, error)

	WriteSemantic(ctx context.Context, w domain.SemanticWrite) error
	ReadSemantic(ctx context.Context, q domain.SemanticQuery) ([]domain.SemanticRecord, error)

	Delete(ctx context.Context, kind domain.MemoryKind, id int64) (bool, error)
}
