// Package types defines the turn records shared across Arbiter packages.
//
// These types form the lingua franca between the narrator, the tool executor,
// the conflict detector, the orchestrator, and persistence. Each package owns
// its own domain types; records that cross package boundaries live here to
// avoid circular imports.
package types

import (
	"encoding/json"
	"math"
	"time"
)

// Reason codes carried by failed tool calls.
const (
	ReasonToolNotAllowed       = "tool_not_allowed"
	ReasonActorStateRestricted = "actor_state_restricted"
	ReasonInvalidActorState    = "invalid_actor_state"
	ReasonInvalidArgs          = "invalid_args"
)

// ToolCall is a structured state mutation request proposed by the narrator.
// It is ephemeral and only persisted inside a turn log entry.
type ToolCall struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Reason string         `json:"reason,omitempty"`
}

// AppliedAction is the concrete, validated effect of an executed tool call.
type AppliedAction struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    map[string]any `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResultString returns Result[key] when it holds a string.
func (a AppliedAction) ResultString(key string) (string, bool) {
	s, ok := a.Result[key].(string)
	return s, ok
}

// ResultInt returns Result[key] as an int. Values decoded from JSON arrive as
// float64 and are accepted when integral.
func (a AppliedAction) ResultInt(key string) (int, bool) {
	switch v := a.Result[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// CallStatus classifies a failed tool call.
type CallStatus string

const (
	// StatusRejected is a policy or permission denial.
	StatusRejected CallStatus = "rejected"

	// StatusError is a malformed or semantically invalid call.
	StatusError CallStatus = "error"
)

// FailedCall records one tool call that was not applied.
type FailedCall struct {
	ID     string     `json:"id"`
	Tool   string     `json:"tool"`
	Status CallStatus `json:"status"`
	Reason string     `json:"reason"`
}

// ToolFeedback aggregates every failed call of one turn. A nil *ToolFeedback
// means nothing failed.
type ToolFeedback struct {
	FailedCalls []FailedCall `json:"failed_calls"`
}

// ConflictType classifies a contradiction between narrator output and state.
type ConflictType string

const (
	ConflictForbiddenChange    ConflictType = "forbidden_change"
	ConflictStateMismatch      ConflictType = "state_mismatch"
	ConflictToolResultMismatch ConflictType = "tool_result_mismatch"
)

// ConflictItem is one detected contradiction.
type ConflictItem struct {
	Type     ConflictType `json:"type"`
	Field    string       `json:"field"`
	Expected string       `json:"expected"`
	Evidence string       `json:"evidence"`
}

// ConflictReport bundles the conflicts of the last failed attempt with the
// number of retries consumed.
type ConflictReport struct {
	Retries   int            `json:"retries"`
	Conflicts []ConflictItem `json:"conflicts"`
}
