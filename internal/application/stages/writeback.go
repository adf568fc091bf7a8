package stages

import (
	"context"
	"time"

	"github.com/aescanero/triage/internal/application/orchestrator"
	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

// EpisodeResolution is the episodic event type written after every run
// that reached a verdict.
const EpisodeResolution = "resolution"

// WriteBack returns a completion hook that remembers each decided run: an
// episodic resolution record for the conversation and the session's last
// intent and route in working memory.
func WriteBack(store ports.MemoryStore, ttl time.Duration, logger *zap.Logger) orchestrator.CompletionHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, state *domain.State) {
		verdict, ok := state.Verdict()
		if !ok {
			return
		}

		in := normalized(state)
		intent := domain.Payload{}
		if out, ok := successful(state, IntentClassification); ok {
			intent = out
		}

		categories := make([]string, len(verdict.Violations))
		for i, v := range verdict.Violations {
			categories[i] = v.Category
		}

		metadata := map[string]interface{}{
			"runId":      state.ID(),
			"confidence": verdict.ConfidenceUsed,
		}
		for _, k := range []string{"intent", "category", "urgency"} {
			if v := intent.String(k); v != "" {
				metadata[k] = v
			}
		}
		if len(categories) > 0 {
			metadata["violations"] = categories
		}

		if _, err := store.WriteEpisodic(ctx, domain.EpisodicWrite{
			EventType:      EpisodeResolution,
			Content:        truncate(in.String("content"), 500),
			IncidentID:     state.Input().String("id"),
			ConversationID: state.SessionID(),
			Outcome:        verdict.Route.String(),
			Metadata:       metadata,
		}); err != nil {
			logger.Error("failed to write resolution episode",
				zap.String("run_id", state.ID()),
				zap.Error(err))
		}

		if v := intent.String("intent"); v != "" {
			if err := store.WriteWorking(ctx, state.SessionID(), "last_intent", v, ttl); err != nil {
				logger.Error("failed to write working memory",
					zap.String("run_id", state.ID()),
					zap.String("key", "last_intent"),
					zap.Error(err))
			}
		}
		if err := store.WriteWorking(ctx, state.SessionID(), "last_route", verdict.Route.String(), ttl); err != nil {
			logger.Error("failed to write working memory",
				zap.String("run_id", state.ID()),
				zap.String("key", "last_route"),
				zap.Error(err))
		}
	}
}
