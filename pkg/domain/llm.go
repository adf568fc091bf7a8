package domain

// CompletionRequest is a single-turn request to a reasoning engine.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is a reasoning engine's reply.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}
