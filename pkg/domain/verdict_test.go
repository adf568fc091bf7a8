package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute_TextRoundTrip(t *testing.T) {
	for _, r := range Routes {
		text, err := r.MarshalText()
		require.NoError(t, err)

		var back Route
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, r, back)
	}

	data, err := json.Marshal(map[string]Route{"route": RouteEscalate})
	require.NoError(t, err)
	assert.JSONEq(t, `{"route":"escalate"}`, string(data))
}

func TestRoute_RejectsUnknown(t *testing.T) {
	_, err := routeUnknown.MarshalText()
	assert.Error(t, err)
	assert.False(t, routeUnknown.Valid())
	assert.Equal(t, "unknown", routeUnknown.String())

	_, err = json.Marshal(Verdict{})
	assert.Error(t, err)

	var r Route
	assert.Error(t, r.UnmarshalText([]byte("AUTO")))
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &r))
	assert.Equal(t, routeUnknown, r)

	_, err = ParseRoute("")
	assert.Error(t, err)
}

func TestNewFinalResponse_AutoReleasesPayloadVerbatim(t *testing.T) {
	payload := "  Reset your password at https://portal.example/reset.\n"
	final := NewFinalResponse(Verdict{Route: RouteAuto, Payload: payload, ConfidenceUsed: 0.92})

	assert.Equal(t, RouteAuto, final.Route)
	assert.Equal(t, payload, final.Payload)
	assert.Equal(t, 0.92, final.Confidence)
	assert.Empty(t, final.Message)
	assert.Empty(t, final.EscalationReason)
	assert.Empty(t, final.Violations)
}

func TestNewFinalResponse_EscalateWithholdsPayload(t *testing.T) {
	violations := []Violation{
		{Category: "violence", Severity: SeverityHigh, Message: "Violent content detected"},
		{Category: "low_confidence", Severity: SeverityMedium, Message: "Confidence below threshold"},
	}
	v := Verdict{
		Route:          RouteEscalate,
		Violations:     violations,
		ConfidenceUsed: 0.4,
		Reason:         violations[0].Message,
		Payload:        "should never reach the caller",
	}

	final := NewFinalResponse(v)

	assert.Equal(t, RouteEscalate, final.Route)
	assert.Empty(t, final.Payload)
	assert.Equal(t, EscalationNotice, final.Message)
	assert.Equal(t, "Violent content detected", final.EscalationReason)
	assert.Equal(t, violations, final.Violations)

	// The response owns its violations.
	violations[0].Category = "changed"
	assert.Equal(t, "violence", final.Violations[0].Category)

	data, err := json.Marshal(final)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should never reach the caller")
}
