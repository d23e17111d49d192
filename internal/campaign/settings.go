package campaign

import (
	"errors"
	"fmt"
)

// MaxCheckpoints is the upper bound of Settings.Rollback.MaxCheckpoints.
const MaxCheckpoints = 10

// Settings is the campaign's settings snapshot. Editing it is done elsewhere;
// the engine only reads it and records Campaign.SettingsRevision per turn.
type Settings struct {
	Context  ContextSettings  `json:"context"`
	Rules    RuleSettings     `json:"rules"`
	Rollback RollbackSettings `json:"rollback"`
	Dialog   DialogSettings   `json:"dialog"`
}

type ContextSettings struct {
	FullContextEnabled bool `json:"full_context_enabled"`
	CompressEnabled    bool `json:"compress_enabled"`
}

type RuleSettings struct {
	// HPZeroEndsGame moves actors at or below zero hit points to dying.
	HPZeroEndsGame bool `json:"hp_zero_ends_game"`
}

type RollbackSettings struct {
	MaxCheckpoints int `json:"max_checkpoints"`
}

type DialogSettings struct {
	AutoTypeEnabled bool `json:"auto_type_enabled"`
}

// DefaultSettings returns the settings of a new campaign.
func DefaultSettings() Settings {
	return Settings{
		Context:  ContextSettings{FullContextEnabled: true},
		Rules:    RuleSettings{HPZeroEndsGame: true},
		Rollback: RollbackSettings{MaxCheckpoints: 0},
		Dialog:   DialogSettings{AutoTypeEnabled: true},
	}
}

// Validate reports incoherent settings combinations.
func (s Settings) Validate() error {
	var errs []error
	if s.Context.FullContextEnabled && s.Context.CompressEnabled {
		errs = append(errs, errors.New("settings: context.full_context_enabled and context.compress_enabled are mutually exclusive"))
	}
	if s.Rollback.MaxCheckpoints < 0 || s.Rollback.MaxCheckpoints > MaxCheckpoints {
		errs = append(errs, fmt.Errorf("settings: rollback.max_checkpoints %d is out of range [0, %d]", s.Rollback.MaxCheckpoints, MaxCheckpoints))
	}
	return errors.Join(errs...)
}
