package ports

import (
	"context"

	"github.com/aescanero/triage/pkg/domain"
)

// Reasoner is an external reasoning engine.
type Reasoner interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error)
	Model() string
}
