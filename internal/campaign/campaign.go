// Package campaign defines the campaign aggregate: party actors and their
// positions, hit points and life states, the explorable map graph, and the
// invariants that hold across them.
//
// The aggregate is a plain value owned by whoever holds it. The turn
// orchestrator owns it exclusively for the duration of one turn; persistence
// owns the durable copy.
package campaign

import (
	"errors"
	"slices"
	"time"
)

// ErrNotInParty is returned when an actor id is not a party member.
var ErrNotInParty = errors.New("campaign: actor not in party")

// LifeState is an actor's life or condition token.
type LifeState string

const (
	Alive               LifeState = "alive"
	Dying               LifeState = "dying"
	Unconscious         LifeState = "unconscious"
	RestrainedPermanent LifeState = "restrained_permanent"
	Dead                LifeState = "dead"
)

// IsValid reports whether s is one of the closed set of life states.
func (s LifeState) IsValid() bool {
	switch s {
	case Alive, Dying, Unconscious, RestrainedPermanent, Dead:
		return true
	}
	return false
}

// Built-in tool names.
const (
	ToolMove        = "move"
	ToolHPDelta     = "hp_delta"
	ToolMapGenerate = "map_generate"
	ToolMoveOptions = "move_options"
)

// DefaultAllowlist is the tool set granted to new campaigns.
func DefaultAllowlist() []string {
	return []string{ToolMove, ToolHPDelta, ToolMapGenerate, ToolMoveOptions}
}

// Starter defaults for party members.
const (
	StartAreaID = "area_001"
	StartHP     = 10
)

// Selected identifies the world, map and party a campaign plays with.
type Selected struct {
	WorldID           string   `json:"world_id"`
	MapID             string   `json:"map_id"`
	PartyCharacterIDs []string `json:"party_character_ids"`
	ActiveActorID     string   `json:"active_actor_id"`
}

// Goal is a freeform narrative objective.
type Goal struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

// Milestone is a freeform narrative progress marker.
type Milestone struct {
	Current          string `json:"current"`
	LastAdvancedTurn int    `json:"last_advanced_turn"`
}

// Campaign is the root aggregate.
type Campaign struct {
	ID               string               `json:"id"`
	Selected         Selected             `json:"selected"`
	Settings         Settings             `json:"settings_snapshot"`
	SettingsRevision int                  `json:"settings_revision"`
	Allowlist        []string             `json:"allowlist"`
	Map              MapData              `json:"map"`
	Positions        map[string]string    `json:"positions"`
	HP               map[string]int       `json:"hp"`
	CharacterStates  map[string]LifeState `json:"character_states"`
	Goal             Goal                 `json:"goal"`
	Milestone        Milestone            `json:"milestone"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Summary is the listing view of a campaign.
type Summary struct {
	ID            string    `json:"id"`
	WorldID       string    `json:"world_id"`
	ActiveActorID string    `json:"active_actor_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summarize returns the listing view of c.
func (c *Campaign) Summarize() Summary {
	return Summary{
		ID:            c.ID,
		WorldID:       c.Selected.WorldID,
		ActiveActorID: c.Selected.ActiveActorID,
		CreatedAt:     c.CreatedAt,
	}
}

// InParty reports whether actorID is a party member.
func (c *Campaign) InParty(actorID string) bool {
	return slices.Contains(c.Selected.PartyCharacterIDs, actorID)
}

// Allows reports whether tool is on the campaign's allowlist.
func (c *Campaign) Allows(tool string) bool {
	return slices.Contains(c.Allowlist, tool)
}

// LifeStateOf returns the recorded life state of actorID. Actors without a
// recorded state are alive.
func (c *Campaign) LifeStateOf(actorID string) LifeState {
	if s, ok := c.CharacterStates[actorID]; ok {
		return s
	}
	return Alive
}

// SelectActor makes actorID the active actor.
func (c *Campaign) SelectActor(actorID string) error {
	if !c.InParty(actorID) {
		return ErrNotInParty
	}
	c.Selected.ActiveActorID = actorID
	return nil
}

// NewParams describes a campaign to create.
type NewParams struct {
	ID                string
	WorldID           string
	MapID             string
	PartyCharacterIDs []string
	ActiveActorID     string
	Allowlist         []string
	Now               time.Time
}

// New builds a fresh campaign with the starter map and every party member
// at the start area with full starter hit points.
func New(p NewParams) (*Campaign, error) {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("campaign: id is required"))
	}
	if len(p.PartyCharacterIDs) == 0 {
		errs = append(errs, errors.New("campaign: party_character_ids must not be empty"))
	}
	if !slices.Contains(p.PartyCharacterIDs, p.ActiveActorID) {
		errs = append(errs, ErrNotInParty)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	allow := p.Allowlist
	if len(allow) == 0 {
		allow = DefaultAllowlist()
	}
	party := slices.Clone(p.PartyCharacterIDs)

	c := &Campaign{
		ID: p.ID,
		Selected: Selected{
			WorldID:           p.WorldID,
			MapID:             p.MapID,
			PartyCharacterIDs: party,
			ActiveActorID:     p.ActiveActorID,
		},
		Settings:        DefaultSettings(),
		Allowlist:       slices.Clone(allow),
		Map:             StarterMap(),
		Positions:       make(map[string]string, len(party)),
		HP:              make(map[string]int, len(party)),
		CharacterStates: make(map[string]LifeState, len(party)),
		Goal:            Goal{Text: "Define the main objective", Status: "active"},
		Milestone:       Milestone{Current: "intro"},
		CreatedAt:       p.Now.UTC(),
	}
	for _, id := range party {
		c.Positions[id] = StartAreaID
		c.HP[id] = StartHP
		c.CharacterStates[id] = Alive
	}
	c.Map.Normalize()
	return c, nil
}
