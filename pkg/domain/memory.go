package domain

import (
	"fmt"
	"time"
)

// MemoryKind names one of the three memory partitions.
type MemoryKind string

const (
	MemoryWorking  MemoryKind = "working"
	MemoryEpisodic MemoryKind = "episodic"
	MemorySemantic MemoryKind = "semantic"
)

// MemoryKinds lists every partition.
var MemoryKinds = []MemoryKind{MemoryWorking, MemoryEpisodic, MemorySemantic}

// ParseMemoryKind validates a partition name.
func ParseMemoryKind(s string) (MemoryKind, error) {
	switch MemoryKind(s) {
	case MemoryWorking, MemoryEpisodic, MemorySemantic:
		return MemoryKind(s), nil
	default:
		return "", fmt.Errorf("invalid memory type: %q", s)
	}
}

// WorkingEntry is a session-scoped key/value with optional expiry.
type WorkingEntry struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"sessionId"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

// EpisodicRecord is an append-only incident or conversation event.
type EpisodicRecord struct {
	ID             int64                  `json:"id"`
	IncidentID     string                 `json:"incidentId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	EventType      string                 `json:"eventType"`
	Content        string                 `json:"content"`
	Outcome        string                 `json:"outcome,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// SemanticRecord is a keyed knowledge entry.
type SemanticRecord struct {
	ID          int64                  `json:"id"`
	Key         string                 `json:"key"`
	Content     string                 `json:"content"`
	Category    string                 `json:"category,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	AccessCount int64                  `json:"accessCount"`
}

// EpisodicWrite carries the fields of a new episodic record.
type EpisodicWrite struct {
	EventType      string                 `json:"event_type" yaml:"event_type"`
	Content        string                 `json:"content" yaml:"content"`
	IncidentID     string                 `json:"incident_id,omitempty" yaml:"incident_id"`
	ConversationID string                 `json:"conversation_id,omitempty" yaml:"conversation_id"`
	Outcome        string                 `json:"outcome,omitempty" yaml:"outcome"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" yaml:"metadata"`
}

// EpisodicFilter selects episodic records. Empty fields do not filter.
type EpisodicFilter struct {
	IncidentID     string
	ConversationID string
	EventType      string
	Limit          int
}

// SemanticWrite carries the fields of a semantic upsert.
type SemanticWrite struct {
	Key      string                 `json:"key" yaml:"key"`
	Content  string                 `json:"content" yaml:"content"`
	Category string                 `json:"category,omitempty" yaml:"category"`
	Tags     []string               `json:"tags,omitempty" yaml:"tags"`
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata"`
}

// SemanticQuery selects semantic records. Exactly one selector applies,
// with precedence Key > Category > SearchTerm > none.
type SemanticQuery struct {
	Key        string
	Category   string
	SearchTerm string
	Limit      int
}
