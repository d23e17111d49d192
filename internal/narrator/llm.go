package narrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// DefaultTemperature keeps narrator output close to deterministic.
const DefaultTemperature = 0.2

// LLM is a [Narrator] backed by an [llm.Provider]. The model is asked for a
// single JSON object; whatever it answers is run through [ParseOutput].
type LLM struct {
	provider    llm.Provider
	name        string
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

var _ Narrator = (*LLM)(nil)

// LLMOption configures an [LLM] narrator.
type LLMOption func(*LLM)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(n *LLM) { n.temperature = t }
}

// WithMaxTokens caps completion length. Values above the model's output limit
// are clamped.
func WithMaxTokens(max int) LLMOption {
	return func(n *LLM) { n.maxTokens = max }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) LLMOption {
	return func(n *LLM) { n.name = name }
}

// WithMetrics records narrator latency and provider errors to m.
func WithMetrics(m *observe.Metrics) LLMOption {
	return func(n *LLM) { n.metrics = m }
}

// NewLLM returns a narrator that completes through p.
func NewLLM(p llm.Provider, opts ...LLMOption) *LLM {
	n := &LLM{
		provider:    p,
		name:        "llm",
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Generate implements [Narrator].
func (n *LLM) Generate(ctx context.Context, req Request) (*Output, error) {
	ctx, span := observe.StartSpan(ctx, "narrator.Generate")
	defer span.End()
	log := observe.Logger(ctx)

	messages := Messages(req)
	caps := n.provider.Capabilities()

	if caps.ContextWindow > 0 {
		if count, err := n.provider.CountTokens(messages); err != nil {
			log.Debug("narrator: token count failed", "provider", n.name, "err", err)
		} else if count > caps.ContextWindow {
			log.Warn("narrator: prompt exceeds context window",
				"provider", n.name, "tokens", count, "context_window", caps.ContextWindow)
		}
	}

	maxTokens := n.maxTokens
	if caps.MaxOutputTokens > 0 && maxTokens > caps.MaxOutputTokens {
		maxTokens = caps.MaxOutputTokens
	}

	start := time.Now()
	resp, err := n.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: n.temperature,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	n.recordDuration(ctx, time.Since(start))
	if err != nil {
		n.recordError(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("narrator: complete: %w", err)
	}
	if resp == nil {
		n.recordError(ctx, ErrEmptyResponse)
		return nil, ErrEmptyResponse
	}

	log.Debug("narrator: completion received",
		"provider", n.name,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return ParseOutput(resp.Content), nil
}

// Messages builds the chat messages for req: the system prompt, the debug
// addendum as a second system message when set, then the user input.
func Messages(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, 3)
	msgs = append(msgs, llm.Message{Role: "system", Content: req.SystemPrompt})
	if req.DebugAddendum != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: req.DebugAddendum})
	}
	return append(msgs, llm.Message{Role: "user", Content: req.UserInput})
}

func (n *LLM) recordDuration(ctx context.Context, d time.Duration) {
	if n.metrics == nil {
		return
	}
	n.metrics.NarratorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(observe.Attr("provider", n.name)))
}

func (n *LLM) recordError(ctx context.Context, err error) {
	if n.metrics == nil {
		return
	}
	kind := "error"
	switch {
	case ctx.Err() != nil:
		kind = "timeout"
	case errors.Is(err, ErrEmptyResponse):
		kind = "empty"
	}
	n.metrics.RecordProviderError(ctx, n.name, kind)
}
