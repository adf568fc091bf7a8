package stages

import (
	"context"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

const (
	memoryReadLimit  = 5
	memorySearchRune = 50
)

// memoryStage reads the session's working memory, the conversation's past
// episodes and semantic entries matching the start of the request.
type memoryStage struct {
	store  ports.MemoryStore
	logger *zap.Logger
}

func (m *memoryStage) run(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	in := normalized(state)
	session := state.SessionID()
	search := truncate(in.String("content"), memorySearchRune)

	out := domain.Payload{
		"working":  map[string]interface{}{},
		"episodic": []domain.EpisodicRecord{},
		"semantic": []domain.SemanticRecord{},
	}
	if m.store == nil {
		return out, nil, nil
	}

	var (
		effects  []domain.SideEffect
		degraded []string
	)
	// degrade reports whether err was absorbed; a done context is not.
	degrade := func(part string, err error) bool {
		if ctx.Err() != nil || !domain.IsStorageError(err) {
			return false
		}
		m.logger.Warn("memory read degraded",
			zap.String("run_id", state.ID()),
			zap.String("partition", part),
			zap.Error(err))
		degraded = append(degraded, part)
		return true
	}

	working, err := m.store.ReadWorking(ctx, session, "")
	switch {
	case err == nil:
		out["working"] = working
		effects = append(effects, domain.SideEffect{
			Tool:   "memory_store.read_working",
			Input:  map[string]interface{}{"session_id": session},
			Output: map[string]interface{}{"count": len(working)},
		})
	case !degrade(string(domain.MemoryWorking), err):
		return nil, nil, err
	}

	episodic, err := m.store.ReadEpisodic(ctx, domain.EpisodicFilter{ConversationID: session, Limit: memoryReadLimit})
	switch {
	case err == nil:
		out["episodic"] = episodic
		effects = append(effects, domain.SideEffect{
			Tool:   "memory_store.read_episodic",
			Input:  map[string]interface{}{"conversation_id": session, "limit": memoryReadLimit},
			Output: map[string]interface{}{"count": len(episodic)},
		})
	case !degrade(string(domain.MemoryEpisodic), err):
		return nil, nil, err
	}

	if search != "" {
		semantic, err := m.store.ReadSemantic(ctx, domain.SemanticQuery{SearchTerm: search, Limit: memoryReadLimit})
		switch {
		case err == nil:
			out["semantic"] = semantic
			effects = append(effects, domain.SideEffect{
				Tool:   "memory_store.read_semantic",
				Input:  map[string]interface{}{"search_term": search, "limit": memoryReadLimit},
				Output: map[string]interface{}{"count": len(semantic)},
			})
		case !degrade(string(domain.MemorySemantic), err):
			return nil, nil, err
		}
	}

	if len(degraded) > 0 {
		out["degraded"] = degraded
	}
	return out, effects, nil
}

// episodes returns the episodic records of a memory output.
func episodes(out domain.Payload) []domain.EpisodicRecord {
	records, _ := out["episodic"].([]domain.EpisodicRecord)
	return records
}
