package conflict

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

// snippetRadius is the number of runes kept on each side of a match.
const snippetRadius = 20

var (
	forbiddenPhrases = []string{
		"change the rules",
		"rewrite the rules",
		"new rule",
		"rules updated",
		"map changed",
		"world changed",
		"timeline changed",
	}

	stateWords = []string{
		"move", "arrive", "enter",
		"hp", "health", "damage", "heal",
		"dies", "dead",
	}

	deathWords = []string{"dead", "dies"}

	// toolWords are the words that count as narrating a tool's effect.
	toolWords = map[string][]string{
		campaign.ToolMove:        {"move", "arrive", "enter"},
		campaign.ToolHPDelta:     {"hp", "health", "damage", "heal"},
		campaign.ToolMapGenerate: {"map", "area", "room"},
	}
)

// TextHeuristic flags narration that claims effects the state lacks.
// Matches are case-insensitive and anchored at word starts, so "moved" counts
// as "move" but "remove" does not.
type TextHeuristic struct{}

var _ Detector = TextHeuristic{}

// Mode implements [Detector].
func (TextHeuristic) Mode() Mode { return ModeTextHeuristic }

// Detect implements [Detector]. Rule explanations are never flagged.
func (TextHeuristic) Detect(in Input) []types.ConflictItem {
	if in.DialogType == campaign.DialogRuleExplanation {
		return nil
	}
	text := strings.ToLower(in.NarrativeText)
	var out []types.ConflictItem

	if i, ok := findAny(text, forbiddenPhrases); ok {
		out = append(out, types.ConflictItem{
			Type:     types.ConflictForbiddenChange,
			Field:    "rules_or_world",
			Expected: "no_rule_or_world_change",
			Evidence: snippet(text, i),
		})
	}

	if len(in.AppliedActions) == 0 {
		if i, ok := findAny(text, stateWords); ok {
			out = append(out, types.ConflictItem{
				Type:     types.ConflictStateMismatch,
				Field:    "applied_actions",
				Expected: "no_state_change",
				Evidence: snippet(text, i),
			})
		}
	}

	if in.ToolFeedback != nil {
		for _, fc := range in.ToolFeedback.FailedCalls {
			if i, ok := findAny(text, toolWords[fc.Tool]); ok {
				out = append(out, types.ConflictItem{
					Type:     types.ConflictToolResultMismatch,
					Field:    fc.Tool,
					Expected: "tool_failed",
					Evidence: snippet(text, i),
				})
			}
		}
	}

	if i, ok := findAny(text, deathWords); ok && !anyDead(in.After.CharacterStates) {
		out = append(out, types.ConflictItem{
			Type:     types.ConflictStateMismatch,
			Field:    "character_states",
			Expected: "no_dead_state",
			Evidence: snippet(text, i),
		})
	}
	return out
}

func anyDead(states map[string]campaign.LifeState) bool {
	for _, s := range states {
		if s == campaign.Dead {
			return true
		}
	}
	return false
}

// findAny returns the byte offset of the earliest word-start match of any
// of words in text.
func findAny(text string, words []string) (int, bool) {
	best := -1
	for _, w := range words {
		if i := findWord(text, w); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best, best >= 0
}

func findWord(text, word string) int {
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], word)
		if i < 0 {
			return -1
		}
		i += off
		if i == 0 || !isWordRune(lastRune(text[:i])) {
			return i
		}
		off = i + len(word)
	}
	return -1
}

func lastRune(s string) rune {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// snippet returns up to snippetRadius runes on either side of byte offset i.
func snippet(text string, i int) string {
	start := i
	for n := 0; n < snippetRadius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := i
	for n := 0; n < snippetRadius && end < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}
