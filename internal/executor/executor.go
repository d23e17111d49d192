// Package executor applies narrator-proposed tool calls to a campaign.
//
// Every call passes three gates in order: the campaign allowlist, the
// permission state machine for the acting actor's life state, and argument
// validation against live state. Calls that fail a gate are recorded in the
// returned [types.ToolFeedback]; calls that pass mutate the campaign in place
// and produce a [types.AppliedAction]. The executor never persists anything.
package executor

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/mapgen"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/permission"
	"github.com/MrWong99/arbiter/pkg/types"
)

// Executor applies tool calls. It holds no campaign state and is safe for
// concurrent use on distinct campaigns.
type Executor struct {
	now     func() time.Time
	metrics *observe.Metrics
}

// Option configures an [Executor].
type Option func(*Executor)

// WithClock overrides the clock used for action timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithMetrics records tool call outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New returns an [Executor].
func New(opts ...Option) *Executor {
	e := &Executor{now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute applies calls to c in order on behalf of actorID. Each applied call
// sees the effects of the ones before it. The returned feedback is nil when
// every call was applied.
func (e *Executor) Execute(ctx context.Context, c *campaign.Campaign, actorID string, calls []types.ToolCall) ([]types.AppliedAction, *types.ToolFeedback) {
	ctx = observe.WithScope(ctx, observe.Scope{CampaignID: c.ID, ActorID: actorID})
	ctx, span := observe.StartSpan(ctx, "executor.Execute",
		trace.WithAttributes(attribute.Int("tool_calls", len(calls))),
	)
	defer span.End()

	log := observe.Logger(ctx)
	applied := make([]types.AppliedAction, 0, len(calls))
	var failed []types.FailedCall

	for _, call := range calls {
		if !c.Allows(call.Tool) {
			failed = append(failed, rejected(call, types.ReasonToolNotAllowed))
			e.record(ctx, call.Tool, "rejected")
			continue
		}

		if d := permission.Resolve(permissionRequest(c, actorID, call)); !d.Allowed {
			failed = append(failed, rejected(call, d.Reason))
			e.record(ctx, call.Tool, "rejected")
			continue
		}

		result, err := e.apply(c, actorID, call)
		if err != nil {
			log.Debug("executor: tool call not applied",
				"call_id", call.ID,
				"tool", call.Tool,
				"err", err,
			)
			failed = append(failed, types.FailedCall{
				ID:     call.ID,
				Tool:   call.Tool,
				Status: types.StatusError,
				Reason: types.ReasonInvalidArgs,
			})
			e.record(ctx, call.Tool, "error")
			continue
		}

		applied = append(applied, types.AppliedAction{
			Tool:      call.Tool,
			Args:      call.Args,
			Result:    result,
			Timestamp: e.now().UTC(),
		})
		e.record(ctx, call.Tool, "applied")
	}

	span.SetAttributes(
		attribute.Int("applied", len(applied)),
		attribute.Int("failed", len(failed)),
	)
	if len(failed) == 0 {
		return applied, nil
	}
	return applied, &types.ToolFeedback{FailedCalls: failed}
}

func (e *Executor) record(ctx context.Context, tool, status string) {
	if e.metrics != nil {
		e.metrics.RecordToolCall(ctx, tool, status)
	}
}

func rejected(call types.ToolCall, reason string) types.FailedCall {
	return types.FailedCall{ID: call.ID, Tool: call.Tool, Status: types.StatusRejected, Reason: reason}
}

// permissionRequest derives permission inputs from the raw arguments before
// they are validated. A malformed hp_delta is therefore judged as non-self or
// non-positive, and only reaches argument validation if the state allows it.
func permissionRequest(c *campaign.Campaign, actorID string, call types.ToolCall) permission.Request {
	r := permission.Request{State: c.LifeStateOf(actorID), Tool: call.Tool}
	if call.Tool == campaign.ToolHPDelta {
		target, _ := call.Args["target_character_id"].(string)
		r.TargetIsSelf = target != "" && target == actorID
		if d, ok := asInt(call.Args["delta"]); ok {
			r.HPDelta = d
		}
	}
	return r
}

// apply validates call against c and performs it.
func (e *Executor) apply(c *campaign.Campaign, actorID string, call types.ToolCall) (map[string]any, error) {
	args, err := ParseArgs(call.Tool, call.Args)
	if err != nil {
		return nil, err
	}
	switch a := args.(type) {
	case MoveArgs:
		return applyMove(c, actorID, a)
	case HPDeltaArgs:
		return applyHPDelta(c, a)
	case MapGenerateArgs:
		return applyMapGenerate(c, a)
	case MoveOptionsArgs:
		return moveOptions(c, actorID, a)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, call.Tool)
	}
}

func applyMove(c *campaign.Campaign, actorID string, a MoveArgs) (map[string]any, error) {
	if a.ActorID != actorID {
		return nil, fmt.Errorf("%w: actor_id %q is not the acting actor", ErrInvalidArgs, a.ActorID)
	}
	pos, ok := c.Positions[a.ActorID]
	if !ok {
		return nil, fmt.Errorf("%w: actor %q has no position", ErrInvalidArgs, a.ActorID)
	}
	if pos != a.FromAreaID {
		return nil, fmt.Errorf("%w: actor is at %q, not %q", ErrInvalidArgs, pos, a.FromAreaID)
	}
	from := c.Map.Area(a.FromAreaID)
	if from == nil || !from.CanReach(a.ToAreaID) {
		return nil, fmt.Errorf("%w: %q is not reachable from %q", ErrInvalidArgs, a.ToAreaID, a.FromAreaID)
	}
	c.Positions[a.ActorID] = a.ToAreaID
	return map[string]any{"to_area_id": a.ToAreaID}, nil
}

func applyHPDelta(c *campaign.Campaign, a HPDeltaArgs) (map[string]any, error) {
	cur, ok := c.HP[a.TargetCharacterID]
	if !ok {
		return nil, fmt.Errorf("%w: no hp recorded for %q", ErrInvalidArgs, a.TargetCharacterID)
	}
	next, ok := addHP(cur, a.Delta)
	if !ok {
		return nil, fmt.Errorf("%w: hp of %q would leave [%d, %d]", ErrInvalidArgs, a.TargetCharacterID, -maxArgInt, maxArgInt)
	}
	c.HP[a.TargetCharacterID] = next
	if c.Settings.Rules.HPZeroEndsGame {
		if c.CharacterStates == nil {
			c.CharacterStates = make(map[string]campaign.LifeState)
		}
		switch {
		case next <= 0:
			c.CharacterStates[a.TargetCharacterID] = campaign.Dying
		case c.CharacterStates[a.TargetCharacterID] == campaign.Dying:
			c.CharacterStates[a.TargetCharacterID] = campaign.Alive
		}
	}
	return map[string]any{"new_hp": next}, nil
}

// addHP returns cur+delta when neither the sum overflows nor the result
// leaves [-maxArgInt, maxArgInt].
func addHP(cur, delta int) (int, bool) {
	if (delta > 0 && cur > math.MaxInt-delta) || (delta < 0 && cur < math.MinInt-delta) {
		return 0, false
	}
	next := cur + delta
	if next < -maxArgInt || next > maxArgInt {
		return 0, false
	}
	return next, true
}

// applyMapGenerate merges a generated layer into c.Map. On any failure the
// map is restored to its state before the call.
func applyMapGenerate(c *campaign.Campaign, a MapGenerateArgs) (map[string]any, error) {
	if a.ParentAreaID != "" && c.Map.Area(a.ParentAreaID) == nil {
		return nil, fmt.Errorf("%w: parent area %q does not exist", ErrInvalidArgs, a.ParentAreaID)
	}

	snapshot := c.Map.Clone()
	before := c.Map.EdgeCount()

	res := mapgen.Generate(&c.Map, mapgen.Request{
		ParentAreaID: a.ParentAreaID,
		Theme:        a.Theme,
		Size:         a.Size,
		Seed:         a.Seed,
	})
	if c.Map.Areas == nil {
		c.Map.Areas = make(map[string]*campaign.MapArea, len(res.NewAreas))
	}
	for id, area := range res.NewAreas {
		c.Map.Areas[id] = area
	}
	for _, edge := range res.NewEdges {
		if _, err := c.Map.AddEdge(edge.From, edge.To); err != nil {
			c.Map = snapshot
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, err)
		}
	}
	if err := c.Map.Require(); err != nil {
		c.Map = snapshot
		return nil, fmt.Errorf("%w: generated map rejected: %w", ErrInvalidArgs, err)
	}
	c.Map.Normalize()

	var root any
	if a.ParentAreaID != "" {
		root = a.ParentAreaID
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return map[string]any{
		"created_area_ids":    res.CreatedAreaIDs,
		"created_connections": c.Map.EdgeCount() - before,
		"root_parent_area_id": root,
		"warnings":            warnings,
	}, nil
}

// MoveOption is one entry of a move_options result.
type MoveOption struct {
	ToAreaID string `json:"to_area_id"`
	Name     string `json:"name"`
}

// MoveOptions returns the areas reachable from actorID's position, sorted by
// area id. It does not mutate c.
func MoveOptions(c *campaign.Campaign, actorID string) ([]MoveOption, error) {
	pos, ok := c.Positions[actorID]
	if !ok {
		return nil, fmt.Errorf("%w: actor %q has no position", ErrInvalidArgs, actorID)
	}
	from := c.Map.Area(pos)
	if from == nil {
		return nil, fmt.Errorf("%w: actor %q stands in unknown area %q", ErrInvalidArgs, actorID, pos)
	}
	opts := make([]MoveOption, 0, len(from.ReachableAreaIDs))
	for _, id := range from.ReachableAreaIDs {
		opt := MoveOption{ToAreaID: id}
		if to := c.Map.Area(id); to != nil {
			opt.Name = to.Name
		}
		opts = append(opts, opt)
	}
	slices.SortFunc(opts, func(a, b MoveOption) int { return cmp.Compare(a.ToAreaID, b.ToAreaID) })
	return opts, nil
}

func moveOptions(c *campaign.Campaign, actorID string, a MoveOptionsArgs) (map[string]any, error) {
	if a.ActorID != "" && a.ActorID != actorID {
		return nil, fmt.Errorf("%w: actor_id %q is not the acting actor", ErrInvalidArgs, a.ActorID)
	}
	opts, err := MoveOptions(c, actorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"options": opts}, nil
}
