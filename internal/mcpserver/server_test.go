package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/executor"
	"github.com/MrWong99/arbiter/internal/store"
	"github.com/MrWong99/arbiter/pkg/types"
)

// ── Fixtures ─────────────────────────────────────────────────────────────────

type fakeCampaigns struct {
	campaigns map[string]*campaign.Campaign
	turns     map[string][]campaign.TurnLogEntry
}

func (f *fakeCampaigns) GetCampaign(_ context.Context, id string) (*campaign.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) TurnLog(_ context.Context, id string) ([]campaign.TurnLogEntry, error) {
	if _, ok := f.campaigns[id]; !ok {
		return nil, store.ErrNotFound
	}
	return f.turns[id], nil
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCampaign(t *testing.T) *campaign.Campaign {
	t.Helper()
	c, err := campaign.New(campaign.NewParams{
		ID:                "camp_0001",
		WorldID:           "world_1",
		MapID:             "map_1",
		PartyCharacterIDs: []string{"pc_001", "pc_002", "pc_003"},
		ActiveActorID:     "pc_001",
		Now:               created,
	})
	if err != nil {
		t.Fatalf("campaign.New: %v", err)
	}
	return c
}

func newFake(t *testing.T) *fakeCampaigns {
	t.Helper()
	c := newCampaign(t)
	c.Positions["pc_003"] = "area_002"

	var turns []campaign.TurnLogEntry
	for i := 1; i <= 3; i++ {
		turns = append(turns, campaign.TurnLogEntry{
			TurnID:        store.TurnID(i),
			Timestamp:     created.Add(time.Duration(i) * time.Minute),
			UserInput:     "look",
			DialogType:    campaign.DefaultDialogType,
			NarrativeText: "turn " + store.TurnID(i),
			AppliedActions: []types.AppliedAction{{
				Tool:   campaign.ToolMove,
				Result: map[string]any{"to_area_id": "area_002"},
			}},
			ToolFeedback:   &types.ToolFeedback{FailedCalls: []types.FailedCall{{ID: "c1", Tool: "hp_delta", Status: types.StatusRejected, Reason: "x"}}},
			ConflictReport: &types.ConflictReport{Retries: 1},
		})
	}
	return &fakeCampaigns{
		campaigns: map[string]*campaign.Campaign{c.ID: c},
		turns:     map[string][]campaign.TurnLogEntry{c.ID: turns},
	}
}

func connect(t *testing.T, campaigns Campaigns) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	server := New(campaigns, "test")
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool(%s) returned tool error: %v", name, res.Content)
	}
	return res
}

func decodeStructuredContent[T any](t *testing.T, value any) T {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return out
}

// ── Tools over a session ─────────────────────────────────────────────────────

func TestTools_ListsAll(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{ToolCampaignState, ToolMapView, ToolMoveOptions, ToolTurnLog}
	slices.Sort(want)
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestTool_CampaignState(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	res := call(t, session, ToolCampaignState, map[string]any{"campaign_id": "camp_0001"})
	got := decodeStructuredContent[CampaignStateResult](t, res.StructuredContent)
	if got.ID != "camp_0001" || got.Selected.ActiveActorID != "pc_001" {
		t.Errorf("state = %+v", got)
	}
	if got.State.Positions["pc_003"] != "area_002" {
		t.Errorf("pc_003 position = %q, want area_002", got.State.Positions["pc_003"])
	}
	if len(got.Map.Areas) != 2 {
		t.Errorf("map areas = %d, want 2", len(got.Map.Areas))
	}
}

func TestTool_MoveOptions(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	res := call(t, session, ToolMoveOptions, map[string]any{"campaign_id": "camp_0001"})
	got := decodeStructuredContent[MoveOptionsResult](t, res.StructuredContent)
	if got.ActorID != "pc_001" {
		t.Errorf("ActorID = %q, want active actor pc_001", got.ActorID)
	}
	if len(got.Options) != 1 || got.Options[0].ToAreaID != "area_002" || got.Options[0].Name != "Side Room" {
		t.Errorf("Options = %+v", got.Options)
	}
}

func TestTool_MapView(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	res := call(t, session, ToolMapView, map[string]any{"campaign_id": "camp_0001", "actor_id": "pc_003"})
	got := decodeStructuredContent[executor.MapView](t, res.StructuredContent)
	if got.ActorID != "pc_003" || got.CurrentArea.ID != "area_002" {
		t.Errorf("view = %+v", got)
	}
}

func TestTool_TurnLog(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{name: "all", limit: 0, want: []string{"turn_0001", "turn_0002", "turn_0003"}},
		{name: "newest two", limit: 2, want: []string{"turn_0002", "turn_0003"}},
		{name: "limit above length", limit: 10, want: []string{"turn_0001", "turn_0002", "turn_0003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"campaign_id": "camp_0001"}
			if tt.limit > 0 {
				args["limit"] = tt.limit
			}
			res := call(t, session, ToolTurnLog, args)
			got := decodeStructuredContent[TurnLogResult](t, res.StructuredContent)
			var ids []string
			for _, r := range got.Turns {
				ids = append(ids, r.TurnID)
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("turn ids = %v, want %v", ids, tt.want)
			}
		})
	}

	res := call(t, session, ToolTurnLog, map[string]any{"campaign_id": "camp_0001", "limit": 1})
	got := decodeStructuredContent[TurnLogResult](t, res.StructuredContent)
	r := got.Turns[0]
	if r.Timestamp != "2026-03-01T12:03:00Z" {
		t.Errorf("Timestamp = %q", r.Timestamp)
	}
	if !slices.Equal(r.AppliedTools, []string{campaign.ToolMove}) || r.FailedCalls != 1 || r.ConflictRetries != 1 {
		t.Errorf("record = %+v", r)
	}
}

func TestTools_Errors(t *testing.T) {
	t.Parallel()
	session := connect(t, newFake(t))

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{name: "unknown campaign", tool: ToolCampaignState, args: map[string]any{"campaign_id": "camp_9999"}},
		{name: "actor outside party", tool: ToolMoveOptions, args: map[string]any{"campaign_id": "camp_0001", "actor_id": "pc_999"}},
		{name: "negative limit", tool: ToolTurnLog, args: map[string]any{"campaign_id": "camp_0001", "limit": -1}},
		{name: "unknown campaign log", tool: ToolTurnLog, args: map[string]any{"campaign_id": "camp_9999"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: tt.tool, Arguments: tt.args})
			if err == nil && !res.IsError {
				t.Fatalf("CallTool(%s) succeeded, want tool error", tt.tool)
			}
		})
	}
}

func TestLoadActor_NotInParty(t *testing.T) {
	t.Parallel()
	_, _, err := loadActor(context.Background(), newFake(t), ActorInput{CampaignID: "camp_0001", ActorID: "pc_999"})
	if !errors.Is(err, campaign.ErrNotInParty) {
		t.Fatalf("err = %v, want ErrNotInParty", err)
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

func TestHandler_Streamable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(New(newFake(t), "test")))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })

	res := call(t, session, ToolMoveOptions, map[string]any{"campaign_id": "camp_0001", "actor_id": "pc_002"})
	got := decodeStructuredContent[MoveOptionsResult](t, res.StructuredContent)
	if got.ActorID != "pc_002" {
		t.Errorf("ActorID = %q, want pc_002", got.ActorID)
	}
}

func TestHandler_RejectsNonJSONBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(New(newFake(t), "test")))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL, "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 400 {
		t.Errorf("status = %d, want a client error", resp.StatusCode)
	}
}
