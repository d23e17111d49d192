// Package narrator produces the narrative text and proposed tool calls for a
// turn.
//
// A [Narrator] is untrusted: its output is only a proposal. Implementations
// must degrade gracefully on malformed model output and never return an error
// for content they merely fail to understand. Errors are reserved for
// transport failures and cancellation.
package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers without any response.
var ErrEmptyResponse = errors.New("narrator: empty response")

// Request is the input for one narrator call.
type Request struct {
	// SystemPrompt carries the game master instructions and the live state.
	SystemPrompt string

	// UserInput is the player's text for this turn.
	UserInput string

	// DebugAddendum is set on retries and describes the conflicts of the
	// previous attempt. Empty on the first attempt.
	DebugAddendum string
}

// Output is the narrator's raw proposal. ToolCalls holds the JSON objects the
// narrator emitted; shape validation is left to the caller.
type Output struct {
	AssistantText string           `json:"assistant_text"`
	DialogType    string           `json:"dialog_type"`
	ToolCalls     []map[string]any `json:"tool_calls"`
}

// Narrator generates one turn proposal.
//
// Implementations must be safe for concurrent use.
type Narrator interface {
	Generate(ctx context.Context, req Request) (*Output, error)
}

// ParseOutput decodes model content into an [Output]. Content that is not a
// JSON object is passed through verbatim as the assistant text with no tool
// calls. "text" is accepted in place of "assistant_text", and tool call
// entries that are not objects are dropped.
func ParseOutput(content string) *Output {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil || raw == nil {
		return &Output{AssistantText: content, ToolCalls: []map[string]any{}}
	}

	out := &Output{ToolCalls: []map[string]any{}}
	if s, ok := raw["assistant_text"].(string); ok {
		out.AssistantText = s
	} else if s, ok := raw["text"].(string); ok {
		out.AssistantText = s
	}
	if s, ok := raw["dialog_type"].(string); ok {
		out.DialogType = s
	}
	if calls, ok := raw["tool_calls"].([]any); ok {
		out.ToolCalls = objects(calls)
	}
	return out
}

func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
