package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/mapgen"
)

// ErrInvalidArgs is wrapped by every argument validation failure.
var ErrInvalidArgs = errors.New("executor: invalid args")

// ErrUnknownTool is returned by [ParseArgs] for tools without an argument
// schema.
var ErrUnknownTool = errors.New("executor: unknown tool")

// Args is the typed argument set of one tool. The concrete type identifies
// the tool.
type Args interface {
	Tool() string
}

// MoveArgs moves the acting actor along one reachable edge.
type MoveArgs struct {
	ActorID    string
	FromAreaID string
	ToAreaID   string
}

// Tool implements [Args].
func (MoveArgs) Tool() string { return campaign.ToolMove }

// HPDeltaArgs adjusts one character's hit points.
type HPDeltaArgs struct {
	TargetCharacterID string
	Delta             int
	Cause             string
}

// Tool implements [Args].
func (HPDeltaArgs) Tool() string { return campaign.ToolHPDelta }

// MapGenerateArgs extends the map by one generated layer.
type MapGenerateArgs struct {
	// ParentAreaID is empty for a root-level layer.
	ParentAreaID string
	Theme        string
	Size         int

	// Seed is nil when the caller supplied none.
	Seed *string
}

// Tool implements [Args].
func (MapGenerateArgs) Tool() string { return campaign.ToolMapGenerate }

// MoveOptionsArgs lists the areas reachable from an actor's position.
type MoveOptionsArgs struct {
	// ActorID is optional and defaults to the acting actor.
	ActorID string
}

// Tool implements [Args].
func (MoveOptionsArgs) Tool() string { return campaign.ToolMoveOptions }

var (
	_ Args = MoveArgs{}
	_ Args = HPDeltaArgs{}
	_ Args = MapGenerateArgs{}
	_ Args = MoveOptionsArgs{}
)

// ParseArgs converts the raw argument map of a tool call into its typed form.
// Raw maps usually come from decoded JSON, so integral float64 values are
// accepted where an integer is expected; booleans never are.
func ParseArgs(tool string, raw map[string]any) (Args, error) {
	switch tool {
	case campaign.ToolMove:
		return parseMove(raw)
	case campaign.ToolHPDelta:
		return parseHPDelta(raw)
	case campaign.ToolMapGenerate:
		return parseMapGenerate(raw)
	case campaign.ToolMoveOptions:
		return parseMoveOptions(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
}

func parseMove(raw map[string]any) (Args, error) {
	var a MoveArgs
	var err error
	if a.ActorID, err = requireString(raw, "actor_id"); err != nil {
		return nil, err
	}
	if a.FromAreaID, err = requireString(raw, "from_area_id"); err != nil {
		return nil, err
	}
	if a.ToAreaID, err = requireString(raw, "to_area_id"); err != nil {
		return nil, err
	}
	return a, nil
}

func parseHPDelta(raw map[string]any) (Args, error) {
	var a HPDeltaArgs
	var err error
	if a.TargetCharacterID, err = requireString(raw, "target_character_id"); err != nil {
		return nil, err
	}
	delta, ok := asInt(raw["delta"])
	if !ok {
		return nil, fmt.Errorf("%w: delta must be an integer", ErrInvalidArgs)
	}
	a.Delta = delta
	if a.Cause, err = requireString(raw, "cause"); err != nil {
		return nil, err
	}
	return a, nil
}

func parseMapGenerate(raw map[string]any) (Args, error) {
	a := MapGenerateArgs{Theme: mapgen.DefaultTheme, Size: mapgen.DefaultSize}

	if v, ok := raw["parent_area_id"]; ok && v != nil {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: parent_area_id must be an area id or null", ErrInvalidArgs)
		}
		a.ParentAreaID = s
	}
	if v, ok := raw["theme"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: theme must be a string", ErrInvalidArgs)
		}
		a.Theme = s
	}

	// Size and seed live in "constraints" when present, otherwise at the top.
	src := raw
	if v, ok := raw["constraints"]; ok && v != nil {
		c, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: constraints must be an object", ErrInvalidArgs)
		}
		src = c
	}
	if v, ok := src["size"]; ok {
		n, ok := asInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: size must be an integer", ErrInvalidArgs)
		}
		a.Size = n
	}
	if v, ok := src["seed"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: seed must be a string or null", ErrInvalidArgs)
		}
		a.Seed = &s
	}

	if a.Size < mapgen.MinSize || a.Size > mapgen.MaxSize {
		return nil, fmt.Errorf("%w: size %d outside [%d, %d]", ErrInvalidArgs, a.Size, mapgen.MinSize, mapgen.MaxSize)
	}
	return a, nil
}

func parseMoveOptions(raw map[string]any) (Args, error) {
	var a MoveOptionsArgs
	if v, ok := raw["actor_id"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: actor_id must be a string", ErrInvalidArgs)
		}
		a.ActorID = s
	}
	return a, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	s, ok := raw[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgs, key)
	}
	return s, nil
}

// maxArgInt bounds integer arguments. Values beyond it are rejected rather
// than truncated, and sums of two bounded values cannot overflow int.
const maxArgInt = math.MaxInt32

// asInt accepts Go integers, integral float64 values and json.Number within
// [-maxArgInt, maxArgInt].
func asInt(v any) (int, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > maxArgInt {
			return 0, false
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n < -maxArgInt || n > maxArgInt {
		return 0, false
	}
	return int(n), true
}
