package campaign

import (
	"time"

	"github.com/MrWong99/arbiter/pkg/types"
)

// TurnLogEntry is the append-only record of one committed turn.
type TurnLogEntry struct {
	TurnID           string                `json:"turn_id"`
	Timestamp        time.Time             `json:"timestamp"`
	UserInput        string                `json:"user_input"`
	DialogType       DialogType            `json:"dialog_type"`
	DialogTypeSource DialogSource          `json:"dialog_type_source"`
	SettingsRevision int                   `json:"settings_revision"`
	NarrativeText    string                `json:"assistant_text"`
	ToolCalls        []types.ToolCall      `json:"tool_calls"`
	AppliedActions   []types.AppliedAction `json:"applied_actions"`
	ToolFeedback     *types.ToolFeedback   `json:"tool_feedback,omitempty"`
	ConflictReport   *types.ConflictReport `json:"conflict_report,omitempty"`
	StateSummary     StateSummary          `json:"state_summary"`
}
