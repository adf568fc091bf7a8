package stages

import (
	"context"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

const (
	maxSearchTerms = 5
	maxDocuments   = 5
)

// knowledgeStage looks the request's significant terms up in semantic memory.
type knowledgeStage struct {
	store  ports.MemoryStore
	logger *zap.Logger
}

func (k *knowledgeStage) run(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	in := normalized(state)
	query := in.String("content")
	terms := significantTerms(query, maxSearchTerms)

	docs := make([]map[string]interface{}, 0)
	out := domain.Payload{
		"query":              query,
		"terms":              terms,
		"retrievedDocuments": docs,
		"count":              0,
	}
	if k.store == nil || len(terms) == 0 {
		return out, nil, nil
	}

	seen := make(map[string]bool)
	for _, term := range terms {
		records, err := k.store.ReadSemantic(ctx, domain.SemanticQuery{SearchTerm: term, Limit: maxDocuments})
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if !domain.IsStorageError(err) {
				return nil, nil, err
			}
			k.logger.Warn("knowledge retrieval degraded",
				zap.String("run_id", state.ID()),
				zap.String("term", term),
				zap.Error(err))
			out["degraded"] = true
			out["storageError"] = err.Error()
			break
		}
		for _, r := range records {
			if seen[r.Key] || len(docs) == maxDocuments {
				continue
			}
			seen[r.Key] = true
			docs = append(docs, map[string]interface{}{
				"key":      r.Key,
				"content":  r.Content,
				"category": r.Category,
				"source":   "semantic_memory",
			})
		}
		if len(docs) == maxDocuments {
			break
		}
	}

	out["retrievedDocuments"] = docs
	out["count"] = len(docs)

	effects := []domain.SideEffect{{
		Tool:   "memory_store.read_semantic",
		Input:  map[string]interface{}{"terms": terms, "limit": maxDocuments},
		Output: map[string]interface{}{"count": len(docs)},
	}}

	k.logger.Debug("knowledge retrieved",
		zap.String("run_id", state.ID()),
		zap.Strings("terms", terms),
		zap.Int("documents", len(docs)))
	return out, effects, nil
}

// documents returns the retrieved documents of a knowledge output.
func documents(out domain.Payload) []map[string]interface{} {
	docs, _ := out["retrievedDocuments"].([]map[string]interface{})
	return docs
}
