// Package mapgen deterministically extends a campaign map with a new layer of
// areas. Identical inputs always produce identical output, so a generation
// that ran against live state can be replayed in tests.
package mapgen

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/arbiter/internal/campaign"
)

const (
	// DefaultTheme replaces an empty theme.
	DefaultTheme = "Generated"

	// DefaultSeed is used when the caller supplies no seed.
	DefaultSeed = "default"

	// MinSize and MaxSize bound the number of areas per generation.
	MinSize = 1
	MaxSize = 30

	// DefaultSize is used when the caller supplies no size.
	DefaultSize = 6
)

// Warnings reported in [Result.Warnings].
const (
	WarnThemeDefaulted = "theme_defaulted"
	WarnSeedDefaulted  = "seed_defaulted"
)

const areaPrefix = "area_"

// Request describes one generation.
type Request struct {
	// ParentAreaID, when non-empty, makes the new layer a child of that area.
	ParentAreaID string
	Theme        string
	Size         int

	// Seed is nil when the caller supplied none.
	Seed *string
}

// Result is a generated layer. Nothing has been merged into any map yet.
type Result struct {
	NewAreas       map[string]*campaign.MapArea
	NewEdges       []campaign.Connection
	CreatedAreaIDs []string
	Warnings       []string

	// EntryAreaID is the first created area when a parent was given.
	EntryAreaID string
}

// Generate builds a new layer of req.Size areas against existing.
// existing is only read. The generator never fails; whether the merged map is
// valid is for the caller to check.
func Generate(existing *campaign.MapData, req Request) Result {
	var warnings []string

	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		theme = DefaultTheme
		warnings = append(warnings, WarnThemeDefaulted)
	}
	seed := DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		warnings = append(warnings, WarnSeedDefaulted)
	}
	size := max(req.Size, MinSize)

	ids := allocateIDs(existing, size)
	entry := ""
	if req.ParentAreaID != "" {
		entry = ids[0]
	}

	areas := make(map[string]*campaign.MapArea, size)
	for i, id := range ids {
		name := fmt.Sprintf("%s Area %02d", theme, i+1)
		if id == entry {
			name = theme + " Entry"
		}
		areas[id] = &campaign.MapArea{
			ID:               id,
			Name:             name,
			ParentAreaID:     req.ParentAreaID,
			ReachableAreaIDs: []string{},
		}
	}

	edges := make(map[campaign.Connection]struct{}, size*2)
	for i := 0; i+1 < len(ids); i++ {
		edges[campaign.Connection{From: ids[i], To: ids[i+1]}] = struct{}{}
	}
	addShortcuts(edges, ids, seed)

	out := make([]campaign.Connection, 0, len(edges)+2)
	for e := range edges {
		out = append(out, e)
	}

	layer := siblingIDs(existing, req.ParentAreaID)
	switch {
	case req.ParentAreaID == "" && len(layer) > 0:
		out = append(out, campaign.Connection{From: layer[0], To: ids[0]})
	case req.ParentAreaID != "":
		out = append(out, campaign.Connection{From: req.ParentAreaID, To: entry})
		if len(layer) > 0 {
			out = append(out, campaign.Connection{From: entry, To: layer[0]})
		}
	}
	slices.SortFunc(out, campaign.CompareConnections)

	return Result{
		NewAreas:       areas,
		NewEdges:       out,
		CreatedAreaIDs: ids,
		Warnings:       warnings,
		EntryAreaID:    entry,
	}
}

// addShortcuts adds forward-skipping edges (from index < to index - 1).
// Layers smaller than four areas get none.
func addShortcuts(edges map[campaign.Connection]struct{}, ids []string, seed string) {
	size := len(ids)
	if size < 4 {
		return
	}
	want := len(edges) + min(max(1, size/3), size-2)
	rng := newRand(seed)
	for attempts := 0; len(edges) < want && attempts < size*4; attempts++ {
		from := rng.IntN(size - 2)
		to := from + 2 + rng.IntN(size-from-2)
		edges[campaign.Connection{From: ids[from], To: ids[to]}] = struct{}{}
	}
}

// newRand derives a PCG source from the SHA-256 digest of seed.
func newRand(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])))
}

// allocateIDs returns size fresh "area_NNN" ids numbered after the highest
// existing numeric suffix.
func allocateIDs(existing *campaign.MapData, size int) []string {
	next := 1
	for id := range existing.Areas {
		suffix, ok := strings.CutPrefix(id, areaPrefix)
		if !ok || suffix == "" || strings.Trim(suffix, "0123456789") != "" {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= next {
			next = n + 1
		}
	}
	ids := make([]string, 0, size)
	for len(ids) < size {
		id := fmt.Sprintf("%s%03d", areaPrefix, next)
		next++
		if existing.Area(id) == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// siblingIDs returns the sorted ids of existing areas sharing parent.
func siblingIDs(existing *campaign.MapData, parent string) []string {
	var ids []string
	for id, a := range existing.Areas {
		if a.ParentAreaID == parent {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
