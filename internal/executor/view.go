package executor

import (
	"github.com/MrWong99/arbiter/internal/campaign"
)

// AreaRef names one area.
type AreaRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MapView is what an actor sees from where it stands.
type MapView struct {
	ActorID     string    `json:"actor_id"`
	CurrentArea AreaRef   `json:"current_area"`
	Reachable   []AreaRef `json:"reachable_areas"`

	// CoLocated lists the other party members in the same area, in party
	// order.
	CoLocated []string `json:"current_area_actor_ids"`
}

// View describes where actorID stands in c. It fails with [ErrInvalidArgs]
// under the same conditions as [MoveOptions].
func View(c *campaign.Campaign, actorID string) (MapView, error) {
	opts, err := MoveOptions(c, actorID)
	if err != nil {
		return MapView{}, err
	}
	pos := c.Positions[actorID]

	view := MapView{
		ActorID:     actorID,
		CurrentArea: AreaRef{ID: pos, Name: c.Map.Area(pos).Name},
		Reachable:   make([]AreaRef, 0, len(opts)),
		CoLocated:   []string{},
	}
	for _, o := range opts {
		view.Reachable = append(view.Reachable, AreaRef{ID: o.ToAreaID, Name: o.Name})
	}
	for _, id := range c.Selected.PartyCharacterIDs {
		if id != actorID && c.Positions[id] == pos {
			view.CoLocated = append(view.CoLocated, id)
		}
	}
	return view, nil
}
