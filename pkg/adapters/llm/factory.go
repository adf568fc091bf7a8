package llm

import (
	"fmt"
	"time"

	"github.com/aescanero/triage/pkg/adapters/llm/anthropic"
	"github.com/aescanero/triage/pkg/ports"
	"go.uber.org/zap"
)

// Providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderAnthropic = "anthropic"
)

// Config holds reasoning engine configuration
type Config struct {
	Provider string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewReasoner creates a reasoning engine based on provider. The heuristic
// provider returns a nil Reasoner, which makes the reasoning stage use its
// built-in correlator.
func NewReasoner(cfg *Config) (ports.Reasoner, error) {
	switch cfg.Provider {
	case "", ProviderHeuristic:
		return nil, nil
	case ProviderAnthropic:
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Logger,
			anthropic.WithModel(cfg.Model),
			anthropic.WithTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
