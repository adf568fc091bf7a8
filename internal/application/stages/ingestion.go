package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/google/uuid"
)

// Input types detected by ingestion.
const (
	TypeTicket  = "ticket"
	TypeQuery   = "query"
	TypeChat    = "chat"
	TypeUnknown = "unknown"
)

var (
	contentFields  = []string{"content", "message", "query", "question", "description", "ticket", "incident"}
	metadataFields = []string{"priority", "urgency", "category", "user_id", "timestamp", "source", "tags"}
)

func ingest(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	return normalize(state), nil, nil
}

// normalize structures the raw request: ids, detected type, the content
// to triage and the metadata fields callers may pass along.
func normalize(state domain.StateView) domain.Payload {
	input := state.Input()

	id := input.String("id")
	if id == "" {
		id = uuid.New().String()
	}
	source := input.String("source")
	if source == "" {
		source = "unknown"
	}

	metadata := domain.Payload{}
	for _, field := range metadataFields {
		if v, ok := input[field]; ok {
			metadata[field] = v
		}
	}

	return domain.Payload{
		"id":        id,
		"sessionId": state.SessionID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"rawInput":  input,
		"type":      detectType(input),
		"content":   extractContent(input),
		"metadata":  metadata,
		"source":    source,
	}
}

func detectType(input domain.Payload) string {
	switch t := input.String("type"); t {
	case TypeTicket, TypeQuery, TypeChat:
		return t
	}

	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := input[k]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("ticket", "incident"):
		return TypeTicket
	case has("query", "question"):
		return TypeQuery
	case has("chat", "message"):
		return TypeChat
	default:
		return TypeUnknown
	}
}

func extractContent(input domain.Payload) string {
	for _, field := range contentFields {
		v, ok := input[field]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(map[string]interface{}(input))
	}
	return string(raw)
}
