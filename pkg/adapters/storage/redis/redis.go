package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "triage:run:"

// RunStore implements RunStore using Redis
type RunStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store. Archived runs expire ttl after
// they finished; zero keeps them forever.
func NewRunStore(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save archives a run snapshot
func (s *RunStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("snapshot has no run id")
	}

	var ttl time.Duration
	if s.ttl > 0 {
		now := time.Now()
		ttl = s.ttl - now.Sub(snap.RetainedFrom(now))
		if ttl <= 0 {
			// Already past retention.
			if err := s.client.Del(ctx, getRunKey(snap.ID)).Err(); err != nil {
				return &domain.StorageError{Op: "save run", Err: err}
			}
			return nil
		}
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, getRunKey(snap.ID), data, ttl).Err(); err != nil {
		return &domain.StorageError{Op: "save run", Err: err}
	}

	s.logger.Debug("run archived",
		zap.String("run_id", snap.ID),
		zap.String("status", string(snap.Status)))

	return nil
}

// Get retrieves an archived run
func (s *RunStore) Get(ctx context.Context, runID string) (*domain.Snapshot, error) {
	data, err := s.client.Get(ctx, getRunKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, &domain.StorageError{Op: "get run", Err: err}
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &snap, nil
}

// Delete removes an archived run
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, getRunKey(runID)).Err(); err != nil {
		return &domain.StorageError{Op: "delete run", Err: err}
	}

	s.logger.Debug("run deleted", zap.String("run_id", runID))
	return nil
}

// List returns up to limit archived runs, most recently started first
func (s *RunStore) List(ctx context.Context, limit int) ([]*domain.Snapshot, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, &domain.StorageError{Op: "scan runs", Err: err}
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	snaps := make([]*domain.Snapshot, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}

		var snap domain.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			s.logger.Warn("skipping unreadable run",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		snaps = append(snaps, &snap)
	}

	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i].StartedAt, snaps[j].StartedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}

	return snaps, nil
}

// getRunKey returns the Redis key for an archived run
func getRunKey(runID string) string {
	return keyPrefix + runID
}
