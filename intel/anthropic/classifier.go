// Package anthropic implements the intel.Classifier interface on top of the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reachforge/outreach/intel"
)

const (
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = string(sdk.ModelClaudeSonnet4_5_20250929)

	// DefaultMaxTokens bounds the completion. Summaries are two sentences,
	// so a small budget is plenty.
	DefaultMaxTokens = 512
)

// classifyPrompt instructs the model to emit machine-readable JSON only.
const classifyPrompt = `You classify posts from professional social networks for a sales intelligence tool.
Summarize the post in at most two sentences, then decide whether it signals a critical business event:
a job change or promotion, a funding round, an acquisition or merger, layoffs, or a major product launch.
Respond with a single JSON object and nothing else: {"summary": string, "is_critical": boolean}.`

type (
	// MessagesClient is the subset of the Anthropic SDK message API the
	// classifier uses. It is satisfied by *sdk.MessageService so callers can
	// pass either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the classifier.
	Options struct {
		// Model identifies the model to invoke. Defaults to DefaultModel.
		Model string
		// MaxTokens bounds the completion length. Defaults to
		// DefaultMaxTokens.
		MaxTokens int
	}

	// Classifier summarizes posts via the Anthropic Messages API.
	Classifier struct {
		msg       MessagesClient
		model     string
		maxTokens int
	}

	completion struct {
		Summary    string `json:"summary"`
		IsCritical bool   `json:"is_critical"`
	}
)

var _ intel.Classifier = (*Classifier)(nil)

// New builds a Classifier from a messages client.
func New(msg MessagesClient, opts Options) (*Classifier, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Classifier{msg: msg, model: opts.Model, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey builds a Classifier backed by the real SDK client.
func NewFromAPIKey(apiKey string, opts Options) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// SummarizePost asks the model for a summary and criticality verdict.
func (c *Classifier) SummarizePost(ctx context.Context, text string) (*intel.Summary, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System:    []sdk.TextBlockParam{{Text: classifyPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(text))},
	}
	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}
	raw := textContent(resp)
	if raw == "" {
		return nil, errors.New("anthropic: empty completion")
	}
	var out completion
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("anthropic: decode completion %q: %w", raw, err)
	}
	return &intel.Summary{Summary: out.Summary, IsCritical: out.IsCritical}, nil
}

// textContent concatenates the text blocks of a message.
func textContent(m *sdk.Message) string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// stripFences removes a markdown code fence when the model wraps its JSON in
// one despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
