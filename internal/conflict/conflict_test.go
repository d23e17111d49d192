package conflict

import (
	"strings"
	"testing"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

func baseSnapshot() campaign.Snapshot {
	return campaign.Snapshot{
		Positions:       map[string]string{"pc_1": "area_001"},
		HP:              map[string]int{"pc_1": 10},
		CharacterStates: map[string]campaign.LifeState{"pc_1": campaign.Alive},
		Map:             campaign.StarterMap(),
	}
}

func moveAction(actor, to string) types.AppliedAction {
	return types.AppliedAction{
		Tool:   campaign.ToolMove,
		Args:   map[string]any{"actor_id": actor, "to_area_id": to},
		Result: map[string]any{"from_area_id": "area_001", "to_area_id": to},
	}
}

func hpAction(target string, newHP int) types.AppliedAction {
	return types.AppliedAction{
		Tool:   campaign.ToolHPDelta,
		Args:   map[string]any{"target_character_id": target, "delta": -3},
		Result: map[string]any{"new_hp": newHP},
	}
}

func failed(tool string) *types.ToolFeedback {
	return &types.ToolFeedback{FailedCalls: []types.FailedCall{{
		ID: "c1", Tool: tool, Status: types.StatusRejected, Reason: types.ReasonInvalidArgs,
	}}}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode    Mode
		want    Mode
		wantErr bool
	}{
		{"", ModeStateDiff, false},
		{ModeStateDiff, ModeStateDiff, false},
		{ModeTextHeuristic, ModeTextHeuristic, false},
		{"llm_judge", "", true},
	}

	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			t.Parallel()
			d, err := New(tc.mode)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Mode() != tc.want {
				t.Errorf("mode = %q, want %q", d.Mode(), tc.want)
			}
		})
	}
}

// ── StateDiff ─────────────────────────────────────────────────────────────────

func TestStateDiff_CleanMove(t *testing.T) {
	t.Parallel()

	before := baseSnapshot()
	after := baseSnapshot()
	after.Positions["pc_1"] = "area_002"

	got := StateDiff{}.Detect(Input{
		NarrativeText:  "You walk into the hall. The world changed.",
		AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")},
		Before:         before,
		After:          after,
	})
	if len(got) != 0 {
		t.Fatalf("conflicts = %+v, want none", got)
	}
}

func TestStateDiff_IgnoresProse(t *testing.T) {
	t.Parallel()

	got := StateDiff{}.Detect(Input{
		NarrativeText: "The goblin dies and you heal 5 hp. New rule: no dice.",
		Before:        baseSnapshot(),
		After:         baseSnapshot(),
	})
	if len(got) != 0 {
		t.Fatalf("conflicts = %+v, want none", got)
	}
}

func TestStateDiff_StateChangedDespiteFailures(t *testing.T) {
	t.Parallel()

	after := baseSnapshot()
	after.HP["pc_1"] = 4

	got := StateDiff{}.Detect(Input{
		ToolFeedback: failed(campaign.ToolHPDelta),
		Before:       baseSnapshot(),
		After:        after,
	})
	if len(got) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(got))
	}
	if got[0].Type != types.ConflictStateMismatch || got[0].Field != "state" || got[0].Expected != "no_state_change" {
		t.Errorf("conflict = %+v", got[0])
	}
}

func TestStateDiff_FailuresWithoutChange(t *testing.T) {
	t.Parallel()

	got := StateDiff{}.Detect(Input{
		ToolFeedback: failed(campaign.ToolMove),
		Before:       baseSnapshot(),
		After:        baseSnapshot(),
	})
	if len(got) != 0 {
		t.Fatalf("conflicts = %+v, want none", got)
	}
}

func TestStateDiff_ToolResultMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		action    types.AppliedAction
		tamper    func(*campaign.Snapshot)
		wantField string
		wantExp   string
	}{
		{
			name:      "position",
			action:    moveAction("pc_1", "area_002"),
			tamper:    func(s *campaign.Snapshot) { s.Positions["pc_1"] = "area_001" },
			wantField: "positions.pc_1",
			wantExp:   "area_002",
		},
		{
			name:      "hp",
			action:    hpAction("pc_1", 7),
			tamper:    func(s *campaign.Snapshot) { s.HP["pc_1"] = 10 },
			wantField: "hp.pc_1",
			wantExp:   "7",
		},
		{
			name:      "hp target missing",
			action:    hpAction("pc_1", 7),
			tamper:    func(s *campaign.Snapshot) { delete(s.HP, "pc_1") },
			wantField: "hp.pc_1",
			wantExp:   "7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			after := baseSnapshot()
			tc.tamper(&after)
			got := StateDiff{}.Detect(Input{
				AppliedActions: []types.AppliedAction{tc.action},
				Before:         baseSnapshot(),
				After:          after,
			})
			if len(got) != 1 {
				t.Fatalf("conflicts = %d, want 1", len(got))
			}
			c := got[0]
			if c.Type != types.ConflictToolResultMismatch {
				t.Errorf("type = %q", c.Type)
			}
			if c.Field != tc.wantField {
				t.Errorf("field = %q, want %q", c.Field, tc.wantField)
			}
			if c.Expected != tc.wantExp {
				t.Errorf("expected = %q, want %q", c.Expected, tc.wantExp)
			}
		})
	}
}

func TestStateDiff_ChainedActionsOnOneField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		actions   []types.AppliedAction
		after     func(*campaign.Snapshot)
		wantField string
	}{
		{
			name:    "hp down then up",
			actions: []types.AppliedAction{hpAction("pc_1", 7), hpAction("pc_1", 8)},
			after:   func(s *campaign.Snapshot) { s.HP["pc_1"] = 8 },
		},
		{
			name:    "two moves",
			actions: []types.AppliedAction{moveAction("pc_1", "area_002"), moveAction("pc_1", "area_001")},
			after:   func(s *campaign.Snapshot) { s.Positions["pc_1"] = "area_001" },
		},
		{
			name:      "last result disagrees",
			actions:   []types.AppliedAction{hpAction("pc_1", 7), hpAction("pc_1", 8)},
			after:     func(s *campaign.Snapshot) { s.HP["pc_1"] = 7 },
			wantField: "hp.pc_1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			after := baseSnapshot()
			tc.after(&after)
			got := StateDiff{}.Detect(Input{
				AppliedActions: tc.actions,
				Before:         baseSnapshot(),
				After:          after,
			})
			if tc.wantField == "" {
				if len(got) != 0 {
					t.Fatalf("conflicts = %+v, want none", got)
				}
				return
			}
			if len(got) != 1 || got[0].Field != tc.wantField || got[0].Expected != "8" {
				t.Fatalf("conflicts = %+v, want one on %s expecting 8", got, tc.wantField)
			}
		})
	}
}

// ── TextHeuristic ─────────────────────────────────────────────────────────────

func TestTextHeuristic(t *testing.T) {
	t.Parallel()

	dead := baseSnapshot()
	dead.CharacterStates["pc_1"] = campaign.Dead

	tests := []struct {
		name      string
		in        Input
		wantTypes []types.ConflictType
		wantField []string
	}{
		{
			name: "quiet scene",
			in:   Input{NarrativeText: "Torchlight flickers over wet stone.", After: baseSnapshot()},
		},
		{
			name:      "forbidden change",
			in:        Input{NarrativeText: "I hereby CHANGE THE RULES of this game.", AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")}, After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictForbiddenChange},
			wantField: []string{"rules_or_world"},
		},
		{
			name:      "claimed move without actions",
			in:        Input{NarrativeText: "You moved into the crypt.", After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictStateMismatch},
			wantField: []string{"applied_actions"},
		},
		{
			name: "claimed move with actions",
			in:   Input{NarrativeText: "You moved into the crypt.", AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")}, After: baseSnapshot()},
		},
		{
			name:      "failed tool narrated",
			in:        Input{NarrativeText: "The blade deals damage.", AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")}, ToolFeedback: failed(campaign.ToolHPDelta), After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictToolResultMismatch},
			wantField: []string{campaign.ToolHPDelta},
		},
		{
			name:      "failed map generation narrated",
			in:        Input{NarrativeText: "A new room opens up.", AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")}, ToolFeedback: failed(campaign.ToolMapGenerate), After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictToolResultMismatch},
			wantField: []string{campaign.ToolMapGenerate},
		},
		{
			name:      "death without dead state",
			in:        Input{NarrativeText: "The hero dies.", AppliedActions: []types.AppliedAction{hpAction("pc_1", 0)}, After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictStateMismatch},
			wantField: []string{"character_states"},
		},
		{
			name: "death with dead state",
			in:   Input{NarrativeText: "The hero dies.", AppliedActions: []types.AppliedAction{hpAction("pc_1", 0)}, After: dead},
		},
		{
			name: "rule explanation skipped",
			in:   Input{NarrativeText: "New rule: when you move, you lose hp. The hero dies.", DialogType: campaign.DialogRuleExplanation, After: baseSnapshot()},
		},
		{
			name: "keywords inside other words ignored",
			in:   Input{NarrativeText: "You remove the ship's chain at the center.", After: baseSnapshot()},
		},
		{
			name:      "several rules fire",
			in:        Input{NarrativeText: "The world changed and you are dead.", After: baseSnapshot()},
			wantTypes: []types.ConflictType{types.ConflictForbiddenChange, types.ConflictStateMismatch, types.ConflictStateMismatch},
			wantField: []string{"rules_or_world", "applied_actions", "character_states"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := TextHeuristic{}.Detect(tc.in)
			if len(got) != len(tc.wantTypes) {
				t.Fatalf("conflicts = %+v, want %d", got, len(tc.wantTypes))
			}
			for i, c := range got {
				if c.Type != tc.wantTypes[i] {
					t.Errorf("[%d] type = %q, want %q", i, c.Type, tc.wantTypes[i])
				}
				if c.Field != tc.wantField[i] {
					t.Errorf("[%d] field = %q, want %q", i, c.Field, tc.wantField[i])
				}
				if c.Evidence == "" {
					t.Errorf("[%d] empty evidence", i)
				}
			}
		})
	}
}

func TestTextHeuristic_EvidenceWindow(t *testing.T) {
	t.Parallel()

	prefix := strings.Repeat("ä", 30)
	text := prefix + " map changed " + strings.Repeat("ö", 30)

	got := TextHeuristic{}.Detect(Input{
		NarrativeText:  text,
		AppliedActions: []types.AppliedAction{moveAction("pc_1", "area_002")},
		After:          baseSnapshot(),
	})
	if len(got) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(got))
	}
	ev := got[0].Evidence
	if n := len([]rune(ev)); n != 2*snippetRadius {
		t.Errorf("evidence runes = %d, want %d", n, 2*snippetRadius)
	}
	if !strings.Contains(ev, "map chang") {
		t.Errorf("evidence %q does not contain the match", ev)
	}
}

func TestSnippet_Bounds(t *testing.T) {
	t.Parallel()

	if got := snippet("dead", 0); got != "dead" {
		t.Errorf("snippet = %q, want %q", got, "dead")
	}
	if got := snippet("", 0); got != "" {
		t.Errorf("snippet = %q, want empty", got)
	}
}
