package conflict

import (
	"fmt"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

// StateDiff checks declared tool results against recorded state.
type StateDiff struct{}

var _ Detector = StateDiff{}

// Mode implements [Detector].
func (StateDiff) Mode() Mode { return ModeStateDiff }

// Detect implements [Detector].
func (StateDiff) Detect(in Input) []types.ConflictItem {
	var out []types.ConflictItem

	failed := in.ToolFeedback != nil && len(in.ToolFeedback.FailedCalls) > 0
	if failed && len(in.AppliedActions) == 0 && !in.Before.Equal(in.After) {
		out = append(out, types.ConflictItem{
			Type:     types.ConflictStateMismatch,
			Field:    "state",
			Expected: "no_state_change",
			Evidence: fmt.Sprintf("state changed although all %d tool calls failed", len(in.ToolFeedback.FailedCalls)),
		})
	}

	// Later calls see the effects of earlier ones, so only the last action
	// touching a field has to agree with the recorded state.
	last := make(map[string]int, len(in.AppliedActions))
	for i, a := range in.AppliedActions {
		if key := fieldOf(a); key != "" {
			last[key] = i
		}
	}

	for i, a := range in.AppliedActions {
		if last[fieldOf(a)] != i {
			continue
		}
		switch a.Tool {
		case campaign.ToolMove:
			actor, _ := a.Args["actor_id"].(string)
			want, _ := a.ResultString("to_area_id")
			if got := in.After.Positions[actor]; got != want {
				out = append(out, types.ConflictItem{
					Type:     types.ConflictToolResultMismatch,
					Field:    "positions." + actor,
					Expected: want,
					Evidence: fmt.Sprintf("recorded position is %q", got),
				})
			}
		case campaign.ToolHPDelta:
			target, _ := a.Args["target_character_id"].(string)
			want, _ := a.ResultInt("new_hp")
			got, ok := in.After.HP[target]
			if !ok || got != want {
				out = append(out, types.ConflictItem{
					Type:     types.ConflictToolResultMismatch,
					Field:    "hp." + target,
					Expected: fmt.Sprint(want),
					Evidence: fmt.Sprintf("recorded hp is %d", got),
				})
			}
		}
	}
	return out
}

// fieldOf names the state field an applied action declares a result for, or
// "" for tools without one.
func fieldOf(a types.AppliedAction) string {
	switch a.Tool {
	case campaign.ToolMove:
		actor, _ := a.Args["actor_id"].(string)
		return "positions." + actor
	case campaign.ToolHPDelta:
		target, _ := a.Args["target_character_id"].(string)
		return "hp." + target
	}
	return ""
}
