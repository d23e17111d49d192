package campaign

import "strings"

// DialogType classifies a narrator response.
type DialogType string

const (
	DialogSceneDescription  DialogType = "scene_description"
	DialogActionPrompt      DialogType = "action_prompt"
	DialogRuleExplanation   DialogType = "rule_explanation"
	DialogResolutionSummary DialogType = "resolution_summary"
)

// DefaultDialogType is used when the narrator supplies no usable type.
const DefaultDialogType = DialogSceneDescription

// DialogTypes lists every dialog type in prompt order.
var DialogTypes = []DialogType{
	DialogSceneDescription,
	DialogActionPrompt,
	DialogRuleExplanation,
	DialogResolutionSummary,
}

// DialogSource records how a dialog type was resolved.
type DialogSource string

const (
	DialogFromModel    DialogSource = "model"
	DialogFromFallback DialogSource = "fallback"
)

// ResolveDialogType maps the narrator's raw dialog type onto a known type.
// With auto-typing disabled the default is always used.
func ResolveDialogType(raw string, autoType bool) (DialogType, DialogSource) {
	if autoType {
		t := DialogType(strings.ToLower(strings.TrimSpace(raw)))
		for _, known := range DialogTypes {
			if t == known {
				return t, DialogFromModel
			}
		}
	}
	return DefaultDialogType, DialogFromFallback
}
