package turn

import (
	"encoding/json"
	"strings"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

// gmInstructions precede the JSON context in every system prompt.
var gmInstructions = strings.Join([]string{
	"You are the game master of a tabletop role-playing campaign.",
	"Answer with one JSON object with the keys 'assistant_text', 'dialog_type' and 'tool_calls'.",
	"The context below is authoritative. State changes only through tool_calls; narration alone changes nothing.",
	"If you narrate that an actor moved, entered or arrived somewhere, the same answer must contain a 'move' tool call.",
	"Without a 'move' tool call, describe the current scene or the options, never a completed change of location.",
	"When the destination is unclear or the player asks where they can go, call 'move_options' and say that nobody has moved yet.",
	"A 'move' call takes actor_id from selected.active_actor_id, from_area_id from positions and to_area_id from the map.",
	"When tool_calls is empty, assistant_text must be a non-empty reply.",
	"Hit point changes go through 'hp_delta'; never narrate damage, healing or death that no tool call backs.",
	"Never change the rules, the map outside 'map_generate', or character sheets.",
	`Example: {"assistant_text":"","dialog_type":"scene_description","tool_calls":[{"id":"call_1","tool":"move","args":{"actor_id":"pc_001","from_area_id":"area_001","to_area_id":"area_002"}}]}`,
}, " ")

// promptContext is the JSON payload embedded in the system prompt.
type promptContext struct {
	DialogTypes       []campaign.DialogType         `json:"dialog_types"`
	DefaultDialogType campaign.DialogType           `json:"default_dialog_type"`
	Allowlist         []string                      `json:"allowlist"`
	Selected          campaign.Selected             `json:"selected"`
	Settings          campaign.Settings             `json:"settings_snapshot"`
	Map               campaign.MapData              `json:"map"`
	Positions         map[string]string             `json:"positions"`
	HP                map[string]int                `json:"hp"`
	CharacterStates   map[string]campaign.LifeState `json:"character_states"`
	ResponseFormat    map[string]string             `json:"response_format"`
}

// SystemPrompt renders the narrator instructions and the live state of c.
func SystemPrompt(c *campaign.Campaign) string {
	payload := promptContext{
		DialogTypes:       campaign.DialogTypes,
		DefaultDialogType: campaign.DefaultDialogType,
		Allowlist:         c.Allowlist,
		Selected:          c.Selected,
		Settings:          c.Settings,
		Map:               c.Map,
		Positions:         c.Positions,
		HP:                c.HP,
		CharacterStates:   c.CharacterStates,
		ResponseFormat: map[string]string{
			"assistant_text": "string narrative",
			"dialog_type":    "one of dialog_types",
			"tool_calls":     "array of {id, tool, args, reason?}",
		},
	}
	return gmInstructions + " Context: " + mustJSON(payload)
}

// DebugAddendum tells the narrator why its previous attempt was discarded.
func DebugAddendum(conflicts []types.ConflictItem, state campaign.StateSummary) string {
	payload := struct {
		Conflicts          []types.ConflictItem  `json:"conflicts"`
		AuthoritativeState campaign.StateSummary `json:"authoritative_state"`
	}{conflicts, state}
	return "Your last output conflicted with authoritative state. " +
		"Fix narrative/tool_calls to comply. " +
		"Debug: " + mustJSON(payload)
}

// mustJSON encodes values built from plain maps, slices and strings, which
// cannot fail to marshal.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic("turn: marshal prompt payload: " + err.Error())
	}
	return string(b)
}
