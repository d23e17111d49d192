package campaign

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrInvalidMap wraps every map invariant violation.
var ErrInvalidMap = errors.New("invalid_map")

// MapArea is a node of the map graph.
type MapArea struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// ParentAreaID records where the area was generated from. It is not a
	// traversal edge.
	ParentAreaID string `json:"parent_area_id,omitempty"`

	// ReachableAreaIDs are the directly traversable neighbours. A nil slice
	// after decoding means the field was absent (see [MapData.Migrate]).
	ReachableAreaIDs []string `json:"reachable_area_ids"`
}

// CanReach reports whether to is a direct neighbour of a.
func (a *MapArea) CanReach(to string) bool {
	return slices.Contains(a.ReachableAreaIDs, to)
}

// Connection is a directed edge of the map graph.
type Connection struct {
	From string `json:"from_area_id"`
	To   string `json:"to_area_id"`
}

// CompareConnections orders connections lexicographically by endpoints.
func CompareConnections(a, b Connection) int {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c
	}
	return cmp.Compare(a.To, b.To)
}

// MapData is the area graph. Connections is derived from the areas'
// reachable lists by [MapData.Normalize] and never authored on its own.
type MapData struct {
	Areas       map[string]*MapArea `json:"areas"`
	Connections []Connection        `json:"connections"`
}

// Clone returns a deep copy of m that shares no memory with it.
func (m *MapData) Clone() MapData {
	out := MapData{
		Areas:       make(map[string]*MapArea, len(m.Areas)),
		Connections: slices.Clone(m.Connections),
	}
	for id, a := range m.Areas {
		if a == nil {
			out.Areas[id] = nil
			continue
		}
		cp := *a
		cp.ReachableAreaIDs = slices.Clone(a.ReachableAreaIDs)
		out.Areas[id] = &cp
	}
	return out
}

// Area returns the area with id, or nil.
func (m *MapData) Area(id string) *MapArea {
	if m.Areas == nil {
		return nil
	}
	return m.Areas[id]
}

// AreaIDs returns every area id in sorted order.
func (m *MapData) AreaIDs() []string {
	return slices.Sorted(maps.Keys(m.Areas))
}

// Edges returns the directed edges implied by the reachable lists, sorted.
func (m *MapData) Edges() []Connection {
	var edges []Connection
	for _, id := range m.AreaIDs() {
		if m.Areas[id] == nil {
			continue
		}
		for _, to := range m.Areas[id].ReachableAreaIDs {
			edges = append(edges, Connection{From: id, To: to})
		}
	}
	slices.SortFunc(edges, CompareConnections)
	return edges
}

// EdgeCount returns the number of directed edges.
func (m *MapData) EdgeCount() int {
	n := 0
	for _, a := range m.Areas {
		if a == nil {
			continue
		}
		n += len(a.ReachableAreaIDs)
	}
	return n
}

// Normalize sorts every reachable list and rebuilds Connections.
// Duplicates are kept so that [MapData.Validate] can still report them.
func (m *MapData) Normalize() {
	if m.Areas == nil {
		m.Areas = make(map[string]*MapArea)
	}
	for _, a := range m.Areas {
		if a == nil {
			continue
		}
		if a.ReachableAreaIDs == nil {
			a.ReachableAreaIDs = []string{}
		}
		slices.Sort(a.ReachableAreaIDs)
	}
	m.Connections = m.Edges()
	if m.Connections == nil {
		m.Connections = []Connection{}
	}
}

// Migrate fills in reachable lists that were absent from stored data using
// the stored connections, for maps persisted before reachable lists existed.
func (m *MapData) Migrate() {
	var missing []string
	for id, a := range m.Areas {
		if a == nil {
			continue
		}
		if a.ID == "" {
			a.ID = id
		}
		if a.ReachableAreaIDs == nil {
			missing = append(missing, id)
			a.ReachableAreaIDs = []string{}
		}
	}
	if len(missing) == 0 {
		return
	}
	for _, c := range m.Connections {
		if !slices.Contains(missing, c.From) {
			continue
		}
		a := m.Areas[c.From]
		if a == nil {
			continue
		}
		a.ReachableAreaIDs = append(a.ReachableAreaIDs, c.To)
	}
	for _, id := range missing {
		a := m.Areas[id]
		slices.Sort(a.ReachableAreaIDs)
		a.ReachableAreaIDs = slices.Compact(a.ReachableAreaIDs)
	}
}

// MapError lists invariant violation codes such as
// "area:area_003:reachable_self_loop" or "parent:area_001:disconnected".
type MapError struct {
	Codes []string
}

func (e *MapError) Error() string {
	return "invalid_map:" + strings.Join(e.Codes, ",")
}

// Unwrap lets errors.Is match [ErrInvalidMap].
func (e *MapError) Unwrap() error { return ErrInvalidMap }

// RootGroup is the group key reported for areas without a parent.
const RootGroup = "root"

// Validate returns every invariant violation in m, in a stable order.
//
// Every entry must be a non-null area whose id matches its key; when one is
// not, only those codes are returned. Each reachable list must be
// duplicate-free, self-loop-free and reference only existing areas. Areas
// sharing a parent must form one connected component of the undirected graph
// induced by their reachable lists.
func (m *MapData) Validate() []string {
	var codes []string
	ids := m.AreaIDs()

	for _, id := range ids {
		switch a := m.Areas[id]; {
		case a == nil:
			codes = append(codes, "area:"+id+":missing")
		case a.ID != id:
			codes = append(codes, "area:"+id+":id_mismatch")
		}
	}
	if len(codes) > 0 {
		return codes
	}

	for _, id := range ids {
		reach := m.Areas[id].ReachableAreaIDs
		seen := make(map[string]struct{}, len(reach))
		dup, self, missing := false, false, false
		for _, to := range reach {
			if _, ok := seen[to]; ok {
				dup = true
			}
			seen[to] = struct{}{}
			if to == id {
				self = true
			}
			if _, ok := m.Areas[to]; !ok {
				missing = true
			}
		}
		if dup {
			codes = append(codes, "area:"+id+":reachable_duplicate")
		}
		if self {
			codes = append(codes, "area:"+id+":reachable_self_loop")
		}
		if missing {
			codes = append(codes, "area:"+id+":reachable_missing_target")
		}
	}

	groups := make(map[string][]string)
	for _, id := range ids {
		groups[m.Areas[id].ParentAreaID] = append(groups[m.Areas[id].ParentAreaID], id)
	}
	for _, parent := range slices.Sorted(maps.Keys(groups)) {
		nodes := groups[parent]
		if len(nodes) > 1 && !m.groupConnected(nodes) {
			name := parent
			if name == "" {
				name = RootGroup
			}
			codes = append(codes, "parent:"+name+":disconnected")
		}
	}
	return codes
}

// groupConnected reports whether nodes form one undirected component using
// only edges whose endpoints are both in nodes.
func (m *MapData) groupConnected(nodes []string) bool {
	adj := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		adj[n] = nil
	}
	for _, n := range nodes {
		for _, to := range m.Areas[n].ReachableAreaIDs {
			if _, ok := adj[to]; ok {
				adj[n] = append(adj[n], to)
				adj[to] = append(adj[to], n)
			}
		}
	}
	visited := make(map[string]bool, len(nodes))
	stack := []string{nodes[0]}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, next := range adj[cur] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return len(visited) == len(nodes)
}

// Require returns a *MapError when m violates any invariant.
func (m *MapData) Require() error {
	if codes := m.Validate(); len(codes) > 0 {
		return &MapError{Codes: codes}
	}
	return nil
}

// AddEdge appends to to from's reachable list unless already present.
// It reports whether the edge was added.
func (m *MapData) AddEdge(from, to string) (bool, error) {
	a := m.Area(from)
	if a == nil {
		return false, fmt.Errorf("campaign: edge source %q does not exist", from)
	}
	if m.Area(to) == nil {
		return false, fmt.Errorf("campaign: edge target %q does not exist", to)
	}
	if a.CanReach(to) {
		return false, nil
	}
	a.ReachableAreaIDs = append(a.ReachableAreaIDs, to)
	return true, nil
}

// StarterMap returns the two-area map every new or empty campaign starts with.
func StarterMap() MapData {
	return MapData{
		Areas: map[string]*MapArea{
			"area_001": {ID: "area_001", Name: "Starting Area", ReachableAreaIDs: []string{"area_002"}},
			"area_002": {ID: "area_002", Name: "Side Room", ReachableAreaIDs: []string{}},
		},
		Connections: []Connection{},
	}
}
