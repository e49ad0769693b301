// Package engine turns a memory-augmented turn into a reply from Claude.
//
// The memory core never generates text. Engine is the downstream generator
// used by the CLI: it sends TurnResult.Context as the user message and keeps
// a short rolling history of plain utterances and replies.
package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/goerr/v2"

	"github.com/deskpet/memcore/core"
	"github.com/deskpet/memcore/logging"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
	DefaultHistory   = 10
)

// Engine generates replies. It is not safe for concurrent use.
type Engine struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	maxTurns  int
	stream    func(delta string)
	logger    *slog.Logger

	history []anthropic.MessageParam
}

// Option configures the engine.
type Option func(*Engine)

// WithModel sets the Claude model.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithHistory sets how many past turns are replayed. Zero disables history.
func WithHistory(turns int) Option {
	return func(e *Engine) { e.maxTurns = max(turns, 0) }
}

// WithStream streams reply text to fn as it arrives.
func WithStream(fn func(delta string)) Option {
	return func(e *Engine) { e.stream = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine on client.
func NewEngine(client *anthropic.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		maxTurns:  DefaultHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Reply answers utterance. Turns the memory core already answered (deletions
// and reserved commands) are returned as is without calling the API.
func (e *Engine) Reply(ctx context.Context, utterance string, res *core.TurnResult) (string, error) {
	if res.HasResponse() {
		return res.Response, nil
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		Messages:  append(e.History(), anthropic.NewUserMessage(anthropic.NewTextBlock(res.Context))),
	}

	var (
		resp *anthropic.Message
		err  error
	)
	if e.stream != nil {
		resp, err = e.createMessageStreaming(ctx, params)
	} else {
		resp, err = e.client.Messages.New(ctx, params)
	}
	if err != nil {
		return "", goerr.Wrap(err, "claude request failed", goerr.V("model", e.model))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	reply := b.String()

	e.logger.Debug("reply generated",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"memories", len(res.RelevantMemories),
	)
	e.remember(utterance, reply)
	return reply, nil
}

// History returns a copy of the replayed messages.
func (e *Engine) History() []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, len(e.history))
	copy(out, e.history)
	return out
}

// Reset forgets the conversation history.
func (e *Engine) Reset() { e.history = nil }

func (e *Engine) remember(utterance, reply string) {
	if e.maxTurns == 0 || reply == "" {
		return
	}
	e.history = append(e.history,
		anthropic.NewUserMessage(anthropic.NewTextBlock(utterance)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)),
	)
	if over := len(e.history) - 2*e.maxTurns; over > 0 {
		e.history = append([]anthropic.MessageParam(nil), e.history[over:]...)
	}
}

func (e *Engine) createMessageStreaming(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			e.logger.Warn("failed to accumulate stream event", "error", err)
		}
		if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				e.stream(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}
