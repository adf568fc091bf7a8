package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/triage/pkg/domain"
	"github.com/aescanero/triage/pkg/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

var _ ports.Reasoner = (*Client)(nil)

// Client implements Reasoner with the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*settings)

type settings struct {
	model   string
	timeout time.Duration
	opts    []option.RequestOption
}

// WithModel selects the model.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRequestOptions passes options through to the SDK client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(s *settings) { s.opts = append(s.opts, opts...) }
}

// NewClient creates an Anthropic client.
func NewClient(apiKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &settings{model: DefaultModel}
	for _, opt := range opts {
		opt(s)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.timeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(s.timeout))
	}
	requestOpts = append(requestOpts, s.opts...)

	logger.Info("anthropic client created", zap.String("model", s.model))

	return &Client{
		client: anthropic.NewClient(requestOpts...),
		model:  s.model,
		logger: logger,
	}, nil
}

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// Complete sends a single-turn message and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("anthropic request failed",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.Debug("anthropic request completed",
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)))

	return &domain.Completion{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
