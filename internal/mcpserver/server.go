// Package mcpserver exposes read-only campaign inspection tools over the
// Model Context Protocol.
//
// The tools never mutate state. They let external agents and debugging
// clients look at what the engine considers authoritative: the state summary,
// the legal moves of an actor, the area an actor stands in, and the committed
// turn log.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/executor"
)

// Tool names.
const (
	ToolCampaignState = "campaign_state"
	ToolMoveOptions   = "move_options"
	ToolMapView       = "map_view"
	ToolTurnLog       = "turn_log"
)

// Campaigns is the read side the tools query. *turn.Service satisfies it.
type Campaigns interface {
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	TurnLog(ctx context.Context, id string) ([]campaign.TurnLogEntry, error)
}

// New builds an MCP server with every inspection tool registered.
func New(campaigns Campaigns, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "arbiter", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolCampaignState,
		Description: "Return the authoritative state of a campaign: actors, positions, hit points, life states, allowlist and map.",
	}, campaignStateHandler(campaigns))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolMoveOptions,
		Description: "List the areas an actor can reach in one move from its current position.",
	}, moveOptionsHandler(campaigns))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolMapView,
		Description: "Describe the area an actor stands in, its exits and the party members sharing it.",
	}, mapViewHandler(campaigns))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolTurnLog,
		Description: "Return the committed turns of a campaign, newest last.",
	}, turnLogHandler(campaigns))

	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

// ── campaign_state ───────────────────────────────────────────────────────────

type CampaignStateInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign id, e.g. camp_0001"`
}

type CampaignStateResult struct {
	ID               string                `json:"id"`
	Selected         campaign.Selected     `json:"selected"`
	SettingsRevision int                   `json:"settings_revision"`
	Allowlist        []string              `json:"allowlist"`
	State            campaign.StateSummary `json:"state"`
	Map              campaign.MapData      `json:"map"`
	Goal             campaign.Goal         `json:"goal"`
	Milestone        campaign.Milestone    `json:"milestone"`
}

func campaignStateHandler(campaigns Campaigns) mcp.ToolHandlerFor[CampaignStateInput, CampaignStateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in CampaignStateInput) (*mcp.CallToolResult, CampaignStateResult, error) {
		c, err := campaigns.GetCampaign(ctx, in.CampaignID)
		if err != nil {
			return nil, CampaignStateResult{}, err
		}
		return nil, CampaignStateResult{
			ID:               c.ID,
			Selected:         c.Selected,
			SettingsRevision: c.SettingsRevision,
			Allowlist:        c.Allowlist,
			State:            c.StateSummary(c.Selected.ActiveActorID),
			Map:              c.Map,
			Goal:             c.Goal,
			Milestone:        c.Milestone,
		}, nil
	}
}

// ── move_options ─────────────────────────────────────────────────────────────

type ActorInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign id, e.g. camp_0001"`
	ActorID    string `json:"actor_id,omitempty" jsonschema:"party member id; defaults to the active actor"`
}

type MoveOptionsResult struct {
	ActorID string                `json:"actor_id"`
	Options []executor.MoveOption `json:"options"`
}

func moveOptionsHandler(campaigns Campaigns) mcp.ToolHandlerFor[ActorInput, MoveOptionsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ActorInput) (*mcp.CallToolResult, MoveOptionsResult, error) {
		c, actorID, err := loadActor(ctx, campaigns, in)
		if err != nil {
			return nil, MoveOptionsResult{}, err
		}
		opts, err := executor.MoveOptions(c, actorID)
		if err != nil {
			return nil, MoveOptionsResult{}, err
		}
		return nil, MoveOptionsResult{ActorID: actorID, Options: opts}, nil
	}
}

// ── map_view ─────────────────────────────────────────────────────────────────

func mapViewHandler(campaigns Campaigns) mcp.ToolHandlerFor[ActorInput, executor.MapView] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in ActorInput) (*mcp.CallToolResult, executor.MapView, error) {
		c, actorID, err := loadActor(ctx, campaigns, in)
		if err != nil {
			return nil, executor.MapView{}, err
		}
		view, err := executor.View(c, actorID)
		if err != nil {
			return nil, executor.MapView{}, err
		}
		return nil, view, nil
	}
}

// ── turn_log ─────────────────────────────────────────────────────────────────

type TurnLogInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"campaign id, e.g. camp_0001"`
	Limit      int    `json:"limit,omitempty" jsonschema:"return only the newest N turns; 0 returns all"`
}

// TurnRecord is the condensed view of one committed turn.
type TurnRecord struct {
	TurnID          string              `json:"turn_id"`
	Timestamp       string              `json:"timestamp"`
	UserInput       string              `json:"user_input"`
	DialogType      campaign.DialogType `json:"dialog_type"`
	NarrativeText   string              `json:"assistant_text"`
	AppliedTools    []string            `json:"applied_tools"`
	FailedCalls     int                 `json:"failed_calls"`
	ConflictRetries int                 `json:"conflict_retries"`
}

type TurnLogResult struct {
	Turns []TurnRecord `json:"turns"`
}

func record(e campaign.TurnLogEntry) TurnRecord {
	r := TurnRecord{
		TurnID:        e.TurnID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
		UserInput:     e.UserInput,
		DialogType:    e.DialogType,
		NarrativeText: e.NarrativeText,
		AppliedTools:  make([]string, 0, len(e.AppliedActions)),
	}
	for _, a := range e.AppliedActions {
		r.AppliedTools = append(r.AppliedTools, a.Tool)
	}
	if e.ToolFeedback != nil {
		r.FailedCalls = len(e.ToolFeedback.FailedCalls)
	}
	if e.ConflictReport != nil {
		r.ConflictRetries = e.ConflictReport.Retries
	}
	return r
}

func turnLogHandler(campaigns Campaigns) mcp.ToolHandlerFor[TurnLogInput, TurnLogResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in TurnLogInput) (*mcp.CallToolResult, TurnLogResult, error) {
		if in.Limit < 0 {
			return nil, TurnLogResult{}, fmt.Errorf("mcpserver: limit must not be negative")
		}
		turns, err := campaigns.TurnLog(ctx, in.CampaignID)
		if err != nil {
			return nil, TurnLogResult{}, err
		}
		if in.Limit > 0 && len(turns) > in.Limit {
			turns = turns[len(turns)-in.Limit:]
		}
		out := TurnLogResult{Turns: make([]TurnRecord, 0, len(turns))}
		for _, e := range turns {
			out.Turns = append(out.Turns, record(e))
		}
		return nil, out, nil
	}
}

func loadActor(ctx context.Context, campaigns Campaigns, in ActorInput) (*campaign.Campaign, string, error) {
	c, err := campaigns.GetCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, "", err
	}
	actorID := in.ActorID
	if actorID == "" {
		actorID = c.Selected.ActiveActorID
	}
	if !c.InParty(actorID) {
		return nil, "", fmt.Errorf("mcpserver: actor %q: %w", actorID, campaign.ErrNotInParty)
	}
	return c, actorID, nil
}
