package stages

import (
	"context"
	"strings"

	"github.com/aescanero/triage/pkg/domain"
)

// Urgency levels, lowest first.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

type signal struct {
	label    string
	keywords []string
}

// Evaluated in order; the first label with a matching keyword wins.
var (
	intentSignals = []signal{
		{"incident_report", []string{"outage", "down", "error", "errors", "failed", "failing", "broken", "crash", "crashed", "not working", "incident"}},
		{"complaint", []string{"complain", "complaint", "unacceptable", "terrible", "angry", "disappointed", "worst"}},
		{"request", []string{"please", "can you", "could you", "need", "request", "reset", "change", "cancel", "update"}},
		{"question", []string{"how", "what", "why", "when", "where", "which", "who"}},
	}
	categorySignals = []signal{
		{"billing", []string{"invoice", "billing", "bill", "charge", "charged", "payment", "refund", "subscription", "price"}},
		{"account", []string{"account", "password", "login", "log in", "sign in", "profile", "username", "locked"}},
		{"technical", []string{"error", "errors", "bug", "crash", "crashed", "server", "api", "outage", "timeout", "down", "latency", "deploy"}},
	}
	urgencySignals = []signal{
		{UrgencyCritical, []string{"critical", "urgent", "asap", "emergency", "outage", "production down", "data loss"}},
		{UrgencyHigh, []string{"immediately", "blocking", "blocked", "down", "cannot", "can t", "high priority"}},
	}
)

func classify(ctx context.Context, state domain.StateView) (domain.Payload, []domain.SideEffect, error) {
	in := normalized(state)
	content := in.String("content")
	idx := newPhraseIndex(content)

	var keywords []string
	seen := make(map[string]bool)
	collect := func(found []string) {
		for _, k := range found {
			if !seen[k] {
				seen[k] = true
				keywords = append(keywords, k)
			}
		}
	}

	pick := func(signals []signal, fallback string) string {
		for _, s := range signals {
			if found := idx.matches(s.keywords); len(found) > 0 {
				collect(found)
				return s.label
			}
		}
		return fallback
	}

	intent := pick(intentSignals, "general")
	if intent == "general" && strings.Contains(content, "?") {
		intent = "question"
	}
	category := pick(categorySignals, "general")

	urgency := pick(urgencySignals, "")
	if urgency == "" {
		urgency = UrgencyLow
		if intent == "incident_report" || intent == "complaint" {
			urgency = UrgencyMedium
		}
	}
	if declared := declaredUrgency(in.Map("metadata")); rank(declared) > rank(urgency) {
		urgency = declared
	}

	breach := urgency == UrgencyHigh || urgency == UrgencyCritical
	slaRisk := map[string]interface{}{
		"breachLikely": breach,
		"confidence":   0.6,
		"reason":       "No time-sensitive signals",
	}
	if breach {
		slaRisk["confidence"] = 0.8
		slaRisk["reason"] = "Urgency " + urgency + " requires a response within the priority window"
	}

	confidence := 0.5
	if intent != "general" {
		confidence += 0.2
	}
	if category != "general" {
		confidence += 0.2
	}

	if keywords == nil {
		keywords = []string{}
	}
	return domain.Payload{
		"intent":     intent,
		"urgency":    urgency,
		"category":   category,
		"slaRisk":    slaRisk,
		"confidence": confidence,
		"keywords":   keywords,
	}, nil, nil
}

// declaredUrgency reads the caller's priority or urgency field.
func declaredUrgency(metadata domain.Payload) string {
	for _, field := range []string{"urgency", "priority"} {
		v := strings.ToLower(metadata.String(field))
		if rank(v) > 0 {
			return v
		}
	}
	return ""
}

func rank(urgency string) int {
	switch urgency {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	default:
		return 0
	}
}
