package stages

import (
	"context"
	"testing"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_DetectsTypeAndContent(t *testing.T) {
	tests := []struct {
		name    string
		input   domain.Payload
		typ     string
		content string
	}{
		{"explicit type", domain.Payload{"type": "chat", "content": "hi"}, TypeChat, "hi"},
		{"ticket field", domain.Payload{"ticket": "VPN is down"}, TypeTicket, "VPN is down"},
		{"question field", domain.Payload{"question": "Where is my order?"}, TypeQuery, "Where is my order?"},
		{"message field", domain.Payload{"message": "hello there"}, TypeChat, "hello there"},
		{"content wins over message", domain.Payload{"content": "a", "message": "b"}, TypeChat, "a"},
		{"non-string content", domain.Payload{"content": 42}, TypeUnknown, "42"},
		{"no content field", domain.Payload{"foo": "bar"}, TypeUnknown, `{"foo":"bar"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := ingest(context.Background(), domain.NewState("r", "s", tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, out.String("type"))
			assert.Equal(t, tt.content, out.String("content"))
		})
	}
}

func TestIngest_MetadataAndIDs(t *testing.T) {
	state := domain.NewState("r", "sess-9", domain.Payload{
		"id":       "ticket-7",
		"content":  "printer jammed",
		"priority": "high",
		"tags":     []string{"hardware"},
		"source":   "email",
		"ignored":  true,
	})

	out, _, err := ingest(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "ticket-7", out.String("id"))
	assert.Equal(t, "sess-9", out.String("sessionId"))
	assert.Equal(t, "email", out.String("source"))
	assert.Equal(t, domain.Payload{"priority": "high", "tags": []string{"hardware"}, "source": "email"}, out.Map("metadata"))
	assert.NotEmpty(t, out.String("timestamp"))

	generated, _, _ := ingest(context.Background(), domain.NewState("r", "s", domain.Payload{"content": "x"}))
	assert.NotEmpty(t, generated.String("id"))
	assert.Equal(t, "unknown", generated.String("source"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    domain.Payload
		intent   string
		category string
		urgency  string
		breach   bool
	}{
		{
			name:     "outage",
			input:    domain.Payload{"content": "Production down, urgent! The API returns errors"},
			intent:   "incident_report",
			category: "technical",
			urgency:  UrgencyCritical,
			breach:   true,
		},
		{
			name:     "billing question",
			input:    domain.Payload{"content": "Where is my invoice?"},
			intent:   "question",
			category: "billing",
			urgency:  UrgencyLow,
		},
		{
			name:     "declared priority raises urgency",
			input:    domain.Payload{"content": "Where is my invoice?", "priority": "high"},
			intent:   "question",
			category: "billing",
			urgency:  UrgencyHigh,
			breach:   true,
		},
		{
			name:     "declared priority never lowers urgency",
			input:    domain.Payload{"content": "emergency: account locked", "urgency": "low"},
			intent:   "general",
			category: "account",
			urgency:  UrgencyCritical,
			breach:   true,
		},
		{
			name:     "complaint",
			input:    domain.Payload{"content": "This is unacceptable"},
			intent:   "complaint",
			category: "general",
			urgency:  UrgencyMedium,
		},
		{
			name:     "plain question mark",
			input:    domain.Payload{"content": "Is the store open on sunday?"},
			intent:   "question",
			category: "general",
			urgency:  UrgencyLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := classify(context.Background(), domain.NewState("r", "s", tt.input))
			require.NoError(t, err)

			assert.Equal(t, tt.intent, out.String("intent"))
			assert.Equal(t, tt.category, out.String("category"))
			assert.Equal(t, tt.urgency, out.String("urgency"))
			assert.Equal(t, tt.breach, out.Map("slaRisk")["breachLikely"])
		})
	}
}

func TestClassify_KeywordsAndConfidence(t *testing.T) {
	out, _, err := classify(context.Background(), domain.NewState("r", "s", domain.Payload{
		"content": "I was charged twice, please refund the payment",
	}))
	require.NoError(t, err)

	assert.Equal(t, "request", out.String("intent"))
	assert.Equal(t, "billing", out.String("category"))
	assert.Equal(t, []string{"please", "charged", "payment", "refund"}, out.Strings("keywords"))
	confidence, _ := out.Float("confidence")
	assert.InDelta(t, 0.9, confidence, 1e-9)
}

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis(`{"confidence": 1.7, "reasoning": "x", "mitigationSuggestions": ["a"]}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, []string{"a"}, a.MitigationSuggestions)

	a, err = parseAnalysis("```\n{\"confidence\": 0.3}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.3, a.Confidence)

	_, err = parseAnalysis("I think the server is down")
	assert.Error(t, err)
}

func TestCorrelate_WithoutEvidence(t *testing.T) {
	a := correlate(reasoningContext{content: "hello"})
	assert.Equal(t, 0.4, a.Confidence)
	assert.Empty(t, a.Patterns)
	assert.Equal(t, "No supporting evidence was found for this request", a.Reasoning)
}

func TestCorrelate_ScoresPastEpisodes(t *testing.T) {
	a := correlate(reasoningContext{
		content: "vpn keeps dropping",
		episodes: []domain.EpisodicRecord{
			{Content: "vpn keeps dropping"},
			{Content: "printer offline"},
			{Content: "ignored third episode"},
		},
	})
	require.Len(t, a.Correlations, 2)
	assert.Equal(t, 1.0, a.Correlations[0].Similarity)
	assert.Equal(t, 0.0, a.Correlations[1].Similarity)
	assert.Equal(t, 0.5, a.Confidence)
}

func TestVerdictFromResult(t *testing.T) {
	v, err := VerdictFromResult(domain.StageResult{Output: domain.Payload{
		"route":            "escalate",
		"confidence":       0.4,
		"escalationReason": "Content contains hate speech",
		"safeResponse":     "should be dropped",
		"violations": []interface{}{
			map[string]interface{}{"category": "hate", "severity": "high", "message": "Content contains hate speech"},
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, domain.RouteEscalate, v.Route)
	assert.Equal(t, 0.4, v.ConfidenceUsed)
	assert.Empty(t, v.Payload)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, domain.Violation{Category: "hate", Severity: domain.SeverityHigh, Message: "Content contains hate speech"}, v.Violations[0])

	_, err = VerdictFromResult(domain.StageResult{Output: domain.Payload{"route": "maybe"}})
	assert.Error(t, err)
}

func TestSignificantTerms(t *testing.T) {
	assert.Equal(t, []string{"printer", "floor", "jammed"},
		significantTerms("The printer on floor 3 is jammed; the PRINTER!", 5))
	assert.Equal(t, []string{"printer"}, significantTerms("printer floor jammed", 1))
}
