package campaign

import (
	"maps"
	"slices"
)

// Snapshot is an independent value copy of the mutable campaign sub-state a
// turn may change. It shares no memory with the campaign it was taken from.
type Snapshot struct {
	Positions       map[string]string
	HP              map[string]int
	CharacterStates map[string]LifeState
	Map             MapData
}

// TakeSnapshot copies the mutable sub-state of c.
func (c *Campaign) TakeSnapshot() Snapshot {
	return Snapshot{
		Positions:       maps.Clone(c.Positions),
		HP:              maps.Clone(c.HP),
		CharacterStates: maps.Clone(c.CharacterStates),
		Map:             c.Map.Clone(),
	}
}

// Restore puts s back into c. The snapshot is copied again so that s stays
// usable for later restores.
func (c *Campaign) Restore(s Snapshot) {
	c.Positions = maps.Clone(s.Positions)
	c.HP = maps.Clone(s.HP)
	c.CharacterStates = maps.Clone(s.CharacterStates)
	c.Map = s.Map.Clone()
}

// Equal reports whether s and o hold the same positions, hit points, life
// states and map areas. Connections are derived from the areas and ignored.
func (s Snapshot) Equal(o Snapshot) bool {
	return maps.Equal(s.Positions, o.Positions) &&
		maps.Equal(s.HP, o.HP) &&
		maps.Equal(s.CharacterStates, o.CharacterStates) &&
		maps.EqualFunc(s.Map.Areas, o.Map.Areas, areaEqual)
}

func areaEqual(a, b *MapArea) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Name == b.Name && a.ParentAreaID == b.ParentAreaID &&
		slices.Equal(a.ReachableAreaIDs, b.ReachableAreaIDs)
}

// StateSummary is the actor-facing view of campaign state returned with
// every turn and recorded in the turn log.
type StateSummary struct {
	ActiveActorID   string               `json:"active_actor_id"`
	Positions       map[string]string    `json:"positions"`
	HP              map[string]int       `json:"hp"`
	CharacterStates map[string]LifeState `json:"character_states"`
}

// StateSummary returns the state summary of c for the given acting actor.
func (c *Campaign) StateSummary(activeActorID string) StateSummary {
	return StateSummary{
		ActiveActorID:   activeActorID,
		Positions:       maps.Clone(c.Positions),
		HP:              maps.Clone(c.HP),
		CharacterStates: maps.Clone(c.CharacterStates),
	}
}

// EnsureMinimumState repairs c so that a turn can run against it: an empty
// map becomes the starter map, every party member gets a position, hit
// points and a life state, and per-actor entries of non-members are dropped.
// It reports whether anything changed.
func (c *Campaign) EnsureMinimumState() bool {
	changed := false
	if len(c.Map.Areas) == 0 {
		c.Map = StarterMap()
		changed = true
	}
	if c.Positions == nil {
		c.Positions = make(map[string]string)
	}
	if c.HP == nil {
		c.HP = make(map[string]int)
	}
	if c.CharacterStates == nil {
		c.CharacterStates = make(map[string]LifeState)
	}
	for _, id := range c.Selected.PartyCharacterIDs {
		if _, ok := c.Positions[id]; !ok {
			c.Positions[id] = StartAreaID
			changed = true
		}
		if _, ok := c.HP[id]; !ok {
			c.HP[id] = StartHP
			changed = true
		}
		if _, ok := c.CharacterStates[id]; !ok {
			c.CharacterStates[id] = Alive
			changed = true
		}
	}
	if c.dropNonMembers() {
		changed = true
	}
	c.Map.Normalize()
	return changed
}

func (c *Campaign) dropNonMembers() bool {
	dropped := false
	for id := range c.Positions {
		if !c.InParty(id) {
			delete(c.Positions, id)
			dropped = true
		}
	}
	for id := range c.HP {
		if !c.InParty(id) {
			delete(c.HP, id)
			dropped = true
		}
	}
	for id := range c.CharacterStates {
		if !c.InParty(id) {
			delete(c.CharacterStates, id)
			dropped = true
		}
	}
	return dropped
}
