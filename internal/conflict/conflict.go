// Package conflict detects contradictions between narrator output and the
// authoritative campaign state after a tool execution pass.
//
// Two strategies satisfy the same [Detector] contract. [StateDiff] compares
// declared tool results with the recorded state and never looks at prose.
// [TextHeuristic] scans the narrative text for claims the state does not
// back up. The orchestrator picks one via [New] and may swap it at runtime.
package conflict

import (
	"fmt"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

// Mode names a detection strategy.
type Mode string

const (
	ModeStateDiff     Mode = "state_diff"
	ModeTextHeuristic Mode = "text_heuristic"
)

// Input is everything a detector may inspect for one attempt.
type Input struct {
	NarrativeText  string
	DialogType     campaign.DialogType
	AppliedActions []types.AppliedAction
	ToolFeedback   *types.ToolFeedback
	Before         campaign.Snapshot
	After          campaign.Snapshot
}

// Detector reports conflicts for one attempt. A nil or empty result means
// the attempt may be committed.
type Detector interface {
	Detect(in Input) []types.ConflictItem
	Mode() Mode
}

// New returns the detector for mode.
func New(mode Mode) (Detector, error) {
	switch mode {
	case ModeStateDiff, "":
		return StateDiff{}, nil
	case ModeTextHeuristic:
		return TextHeuristic{}, nil
	default:
		return nil, fmt.Errorf("conflict: unknown mode %q", mode)
	}
}
