package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/conflict"
	"github.com/MrWong99/arbiter/internal/narrator"
	"github.com/MrWong99/arbiter/internal/narrator/mock"
	"github.com/MrWong99/arbiter/internal/store"
	"github.com/MrWong99/arbiter/pkg/types"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

// countingStore counts campaign writes of the wrapped store.
type countingStore struct {
	store.Store
	saves atomic.Int32
}

func (s *countingStore) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	s.saves.Add(1)
	return s.Store.SaveCampaign(ctx, c)
}

// scriptedDetector returns one scripted result per call, then nothing.
type scriptedDetector struct {
	mu      sync.Mutex
	results [][]types.ConflictItem
	inputs  []conflict.Input
}

func (d *scriptedDetector) Mode() conflict.Mode { return "scripted" }

func (d *scriptedDetector) Detect(in conflict.Input) []types.ConflictItem {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs = append(d.inputs, in)
	if len(d.results) == 0 {
		return nil
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, n narrator.Narrator, opts ...Option) (*Service, *countingStore, string) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	st := &countingStore{Store: fs}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(st, n, opts...)

	id, err := svc.CreateCampaign(context.Background(), CreateRequest{
		WorldID:           "world_1",
		MapID:             "map_1",
		PartyCharacterIDs: []string{"pc_001", "pc_002"},
		ActiveActorID:     "pc_001",
	})
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	st.saves.Store(0)
	return svc, st, id
}

func moveCall(id, actor, from, to string) map[string]any {
	return map[string]any{
		"id":   id,
		"tool": campaign.ToolMove,
		"args": map[string]any{"actor_id": actor, "from_area_id": from, "to_area_id": to},
	}
}

func conflictItem(field string) []types.ConflictItem {
	return []types.ConflictItem{{Type: types.ConflictStateMismatch, Field: field, Expected: "no_state_change", Evidence: "x"}}
}

// ── Commit path ──────────────────────────────────────────────────────────────

func TestSubmitTurn_CommitsMove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Output: &narrator.Output{
		AssistantText: "",
		DialogType:    "scene_description",
		ToolCalls:     []map[string]any{moveCall("c1", "pc_001", "area_001", "area_002")},
	}}
	svc, st, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "I go to the side room"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusCommitted || resp.TurnID != "turn_0001" {
		t.Errorf("status = %q, turn id = %q", resp.Status, resp.TurnID)
	}
	if len(resp.AppliedActions) != 1 || resp.ToolFeedback != nil || resp.ConflictReport != nil {
		t.Errorf("response = %+v", resp)
	}
	if resp.StateSummary.Positions["pc_001"] != "area_002" {
		t.Errorf("summary position = %q", resp.StateSummary.Positions["pc_001"])
	}
	if got := st.saves.Load(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}

	c, err := svc.GetCampaign(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Positions["pc_001"] != "area_002" {
		t.Errorf("stored position = %q, want area_002", c.Positions["pc_001"])
	}

	log, err := svc.TurnLog(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 1 {
		t.Fatalf("turn log = %d entries, want 1", len(log))
	}
	e := log[0]
	if e.TurnID != "turn_0001" || e.UserInput != "I go to the side room" || !e.Timestamp.Equal(fixedNow) {
		t.Errorf("entry = %+v", e)
	}
	if e.DialogType != campaign.DialogSceneDescription || e.DialogTypeSource != campaign.DialogFromModel {
		t.Errorf("dialog = %q/%q", e.DialogType, e.DialogTypeSource)
	}
	if len(e.ToolCalls) != 1 || len(e.AppliedActions) != 1 {
		t.Errorf("entry calls = %d, actions = %d", len(e.ToolCalls), len(e.AppliedActions))
	}
}

func TestSubmitTurn_NoOpTurnSkipsSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Output: &narrator.Output{AssistantText: "The corridor is quiet.", DialogType: "bogus"}}
	svc, st, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "look"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.NarrativeText != "The corridor is quiet." || resp.DialogType != campaign.DefaultDialogType {
		t.Errorf("response = %+v", resp)
	}
	if got := st.saves.Load(); got != 0 {
		t.Errorf("saves = %d, want 0", got)
	}
	log, _ := svc.TurnLog(ctx, id)
	if len(log) != 1 || log[0].DialogTypeSource != campaign.DialogFromFallback {
		t.Errorf("log = %+v", log)
	}
}

func TestSubmitTurn_FailedCallsStillCommit(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{Output: &narrator.Output{
		AssistantText: "You try the door.",
		ToolCalls:     []map[string]any{moveCall("c1", "pc_001", "area_002", "area_001")},
	}}
	svc, st, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "go back"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusCommitted || resp.ToolFeedback == nil || len(resp.ToolFeedback.FailedCalls) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if got := st.saves.Load(); got != 0 {
		t.Errorf("saves = %d, want 0", got)
	}
}

func TestSubmitTurn_DropsMalformedToolCalls(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{Output: &narrator.Output{ToolCalls: []map[string]any{
		{"id": 7, "tool": "move", "args": map[string]any{}},
		{"id": "c2", "tool": "move", "args": "nope"},
		moveCall("c3", "pc_001", "area_001", "area_002"),
	}}}
	svc, _, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "go"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "c3" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
}

func TestSubmitTurn_ActorOverride(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{Output: &narrator.Output{
		ToolCalls: []map[string]any{moveCall("c1", "pc_002", "area_001", "area_002")},
	}}
	svc, _, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "go", ActorID: "pc_002"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.StateSummary.ActiveActorID != "pc_002" || resp.StateSummary.Positions["pc_002"] != "area_002" {
		t.Errorf("summary = %+v", resp.StateSummary)
	}
}

// ── Conflict handling ────────────────────────────────────────────────────────

func TestSubmitTurn_RetryThenCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	move := moveCall("c1", "pc_001", "area_001", "area_002")
	n := &mock.Narrator{Outputs: []*narrator.Output{
		{AssistantText: "bad", ToolCalls: []map[string]any{move}},
		{AssistantText: "good", ToolCalls: []map[string]any{move}},
	}}
	det := &scriptedDetector{results: [][]types.ConflictItem{conflictItem("positions")}}
	svc, _, id := newTestService(t, n, WithDetector(det))

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "go"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusCommitted || resp.NarrativeText != "good" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.ConflictReport == nil || resp.ConflictReport.Retries != 1 || len(resp.ConflictReport.Conflicts) != 1 {
		t.Errorf("conflict report = %+v", resp.ConflictReport)
	}

	reqs := n.Calls()
	if len(reqs) != 2 {
		t.Fatalf("narrator calls = %d, want 2", len(reqs))
	}
	if reqs[0].DebugAddendum != "" {
		t.Error("first attempt must not carry a debug addendum")
	}
	if !strings.HasPrefix(reqs[1].DebugAddendum, "Your last output conflicted with authoritative state.") {
		t.Errorf("debug addendum = %q", reqs[1].DebugAddendum)
	}
	if !strings.Contains(reqs[1].DebugAddendum, `"pc_001":"area_001"`) {
		t.Errorf("debug addendum should carry the rolled back state: %q", reqs[1].DebugAddendum)
	}

	// The second attempt started from the rolled back position.
	if in := det.inputs[1]; in.Before.Positions["pc_001"] != "area_001" || in.After.Positions["pc_001"] != "area_002" {
		t.Errorf("second attempt before/after = %v/%v", in.Before.Positions, in.After.Positions)
	}

	c, _ := svc.GetCampaign(ctx, id)
	if c.Positions["pc_001"] != "area_002" {
		t.Errorf("stored position = %q", c.Positions["pc_001"])
	}
}

func TestSubmitTurn_ReportKeepsEveryDiscardedAttempt(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{Outputs: []*narrator.Output{
		{AssistantText: "first"}, {AssistantText: "second"}, {AssistantText: "third"},
	}}
	det := &scriptedDetector{results: [][]types.ConflictItem{conflictItem("first"), conflictItem("second")}}
	svc, _, id := newTestService(t, n, WithDetector(det))

	resp, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "go"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusCommitted || resp.NarrativeText != "third" {
		t.Fatalf("response = %+v", resp)
	}
	rep := resp.ConflictReport
	if rep == nil || rep.Retries != 2 || len(rep.Conflicts) != 2 ||
		rep.Conflicts[0].Field != "first" || rep.Conflicts[1].Field != "second" {
		t.Errorf("conflict report = %+v, want both discarded attempts", rep)
	}
}

func TestSubmitTurn_ChainedHPDeltasCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Output: &narrator.Output{
		AssistantText: "The goblin strikes, then a potion heals you a little.",
		ToolCalls: []map[string]any{
			{"id": "c1", "tool": campaign.ToolHPDelta, "args": map[string]any{"target_character_id": "pc_001", "delta": -3}},
			{"id": "c2", "tool": campaign.ToolHPDelta, "args": map[string]any{"target_character_id": "pc_001", "delta": 1}},
		},
	}}
	// Default detector: state diff.
	svc, _, id := newTestService(t, n)

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "fight"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusCommitted {
		t.Fatalf("status = %q, report = %+v", resp.Status, resp.ConflictReport)
	}
	if len(n.Calls()) != 1 || resp.ConflictReport != nil {
		t.Errorf("narrator calls = %d, report = %+v; want one clean attempt", len(n.Calls()), resp.ConflictReport)
	}
	if len(resp.AppliedActions) != 2 || resp.StateSummary.HP["pc_001"] != campaign.StartHP-2 {
		t.Errorf("applied = %d, hp = %d", len(resp.AppliedActions), resp.StateSummary.HP["pc_001"])
	}
}

func TestSubmitTurn_RetriesExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Output: &narrator.Output{
		AssistantText: "You arrive.",
		DialogType:    "action_prompt",
		ToolCalls: []map[string]any{
			moveCall("c1", "pc_001", "area_001", "area_002"),
			{"id": "c2", "tool": "hp_delta", "args": map[string]any{"target_character_id": "pc_001", "delta": -15}},
		},
	}}
	det := &scriptedDetector{results: [][]types.ConflictItem{
		conflictItem("a"), conflictItem("b"), conflictItem("c"), conflictItem("d"),
	}}
	svc, st, id := newTestService(t, n, WithDetector(det))

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "go"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", resp.Status)
	}
	if got := len(n.Calls()); got != MaxRetries+1 {
		t.Errorf("narrator calls = %d, want %d", got, MaxRetries+1)
	}
	if resp.NarrativeText != "" || len(resp.ToolCalls) != 0 || len(resp.AppliedActions) != 0 || resp.TurnID != "" {
		t.Errorf("failure response = %+v", resp)
	}
	if resp.DialogType != campaign.DialogActionPrompt {
		t.Errorf("dialog type = %q", resp.DialogType)
	}
	rep := resp.ConflictReport
	if rep == nil || rep.Retries != MaxRetries {
		t.Fatalf("conflict report = %+v", rep)
	}
	var fields []string
	for _, c := range rep.Conflicts {
		fields = append(fields, c.Field)
	}
	if strings.Join(fields, ",") != "a,b,c" {
		t.Errorf("conflict fields = %v, want every attempt's conflicts [a b c]", fields)
	}
	if resp.ToolFeedback != nil {
		t.Errorf("tool feedback = %+v, want nil on a failed turn", resp.ToolFeedback)
	}
	if resp.StateSummary.Positions["pc_001"] != "area_001" || resp.StateSummary.HP["pc_001"] != campaign.StartHP ||
		resp.StateSummary.CharacterStates["pc_001"] != campaign.Alive {
		t.Errorf("summary not rolled back: %+v", resp.StateSummary)
	}
	if got := st.saves.Load(); got != 0 {
		t.Errorf("saves = %d, want 0", got)
	}

	c, _ := svc.GetCampaign(ctx, id)
	if c.Positions["pc_001"] != "area_001" || c.HP["pc_001"] != campaign.StartHP {
		t.Errorf("stored state changed: %v %v", c.Positions, c.HP)
	}
	if log, _ := svc.TurnLog(ctx, id); len(log) != 0 {
		t.Errorf("turn log = %d entries, want 0", len(log))
	}
}

func TestSubmitTurn_RollbackRestoresMap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Output: &narrator.Output{ToolCalls: []map[string]any{{
		"id": "c1", "tool": "map_generate",
		"args": map[string]any{"parent_area_id": nil, "theme": "Crypt", "constraints": map[string]any{"size": 3, "seed": "bones"}},
	}}}}
	det := &scriptedDetector{results: [][]types.ConflictItem{conflictItem("a"), conflictItem("b"), conflictItem("c")}}
	svc, _, id := newTestService(t, n, WithDetector(det))

	resp, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "explore"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("status = %q", resp.Status)
	}
	for i, in := range det.inputs {
		if len(in.Before.Map.Areas) != 2 {
			t.Errorf("attempt %d started with %d areas, want 2", i, len(in.Before.Map.Areas))
		}
		if len(in.After.Map.Areas) != 5 {
			t.Errorf("attempt %d produced %d areas, want 5", i, len(in.After.Map.Areas))
		}
	}
	c, _ := svc.GetCampaign(ctx, id)
	if len(c.Map.Areas) != 2 {
		t.Errorf("stored areas = %d, want 2", len(c.Map.Areas))
	}
}

func TestSubmitTurn_TextHeuristicFlagsUnbackedMovement(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{Output: &narrator.Output{AssistantText: "You moved into the crypt."}}
	svc, _, id := newTestService(t, n, WithDetector(conflict.TextHeuristic{}))

	resp, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "go"})
	if err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if resp.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", resp.Status)
	}
	if c := resp.ConflictReport.Conflicts[0]; c.Type != types.ConflictStateMismatch || c.Field != "applied_actions" {
		t.Errorf("conflict = %+v", c)
	}
}

// ── Request errors ───────────────────────────────────────────────────────────

func TestSubmitTurn_RequestErrors(t *testing.T) {
	t.Parallel()
	n := &mock.Narrator{}
	svc, _, id := newTestService(t, n)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown campaign", Request{CampaignID: "camp_0404", UserInput: "x"}, store.ErrNotFound},
		{"actor outside party", Request{CampaignID: id, UserInput: "x", ActorID: "npc_9"}, ErrActorNotInParty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitTurn(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if len(n.Calls()) != 0 {
		t.Errorf("narrator called %d times", len(n.Calls()))
	}
}

func TestSubmitTurn_NarratorTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := &mock.Narrator{Block: true}
	svc, _, id := newTestService(t, n, WithNarratorTimeout(20*time.Millisecond))

	_, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if log, _ := svc.TurnLog(ctx, id); len(log) != 0 {
		t.Errorf("turn log = %d entries, want 0", len(log))
	}
}

func TestSubmitTurn_NarratorError(t *testing.T) {
	t.Parallel()
	boom := errors.New("provider down")
	svc, _, id := newTestService(t, &mock.Narrator{Err: boom})

	if _, err := svc.SubmitTurn(context.Background(), Request{CampaignID: id, UserInput: "x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSubmitTurn_RepairsMinimumState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, id := newTestService(t, &mock.Narrator{})

	c, err := svc.GetCampaign(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	delete(c.HP, "pc_002")
	c.Positions["ghost"] = "area_001"
	if err := st.Store.SaveCampaign(ctx, c); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: "look"}); err != nil {
		t.Fatalf("SubmitTurn: %v", err)
	}
	if got := st.saves.Load(); got != 1 {
		t.Errorf("saves = %d, want 1 repair write", got)
	}
	c, _ = svc.GetCampaign(ctx, id)
	if c.HP["pc_002"] != campaign.StartHP {
		t.Errorf("hp = %v", c.HP)
	}
	if _, ok := c.Positions["ghost"]; ok {
		t.Error("non-party position survived repair")
	}
}

// ── Concurrency ──────────────────────────────────────────────────────────────

func TestSubmitTurn_SerialisesSameCampaign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, id := newTestService(t, &mock.Narrator{Output: &narrator.Output{AssistantText: "ok"}})

	const turns = 8
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitTurn(ctx, Request{CampaignID: id, UserInput: fmt.Sprint(i)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SubmitTurn: %v", err)
		}
	}

	log, err := svc.TurnLog(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != turns {
		t.Fatalf("turn log = %d entries, want %d", len(log), turns)
	}
	seen := make(map[string]bool)
	for _, e := range log {
		if seen[e.TurnID] {
			t.Errorf("duplicate turn id %q", e.TurnID)
		}
		seen[e.TurnID] = true
	}
	if svc.locks.len() != 0 {
		t.Errorf("lock entries leaked: %d", svc.locks.len())
	}
}

// ── Campaign operations ──────────────────────────────────────────────────────

func TestCreateCampaign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, id := newTestService(t, &mock.Narrator{}, WithDefaultAllowlist([]string{"move"}))

	if id != "camp_0001" {
		t.Errorf("id = %q, want camp_0001", id)
	}
	c, err := svc.GetCampaign(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Allowlist) != 1 || c.Allowlist[0] != "move" {
		t.Errorf("allowlist = %v", c.Allowlist)
	}
	if c.Goal.Text != "Define the main objective" || c.Milestone.Current != "intro" || !c.CreatedAt.Equal(fixedNow) {
		t.Errorf("campaign = %+v", c)
	}

	second, err := svc.CreateCampaign(ctx, CreateRequest{PartyCharacterIDs: []string{"a"}, ActiveActorID: "a"})
	if err != nil || second != "camp_0002" {
		t.Fatalf("second = %q, %v", second, err)
	}

	sums, err := svc.ListCampaigns(ctx)
	if err != nil || len(sums) != 2 {
		t.Fatalf("ListCampaigns = %v, %v", sums, err)
	}
}

func TestCreateCampaign_Invalid(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &mock.Narrator{})

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty party", CreateRequest{ActiveActorID: "a"}},
		{"active outside party", CreateRequest{PartyCharacterIDs: []string{"a"}, ActiveActorID: "b"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateCampaign(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestSelectActor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, id := newTestService(t, &mock.Narrator{})

	c, err := svc.SelectActor(ctx, id, "pc_002")
	if err != nil {
		t.Fatalf("SelectActor: %v", err)
	}
	if c.Selected.ActiveActorID != "pc_002" {
		t.Errorf("active = %q", c.Selected.ActiveActorID)
	}
	stored, _ := svc.GetCampaign(ctx, id)
	if stored.Selected.ActiveActorID != "pc_002" {
		t.Errorf("stored active = %q", stored.Selected.ActiveActorID)
	}

	if _, err := svc.SelectActor(ctx, id, "npc_1"); !errors.Is(err, ErrActorNotInParty) {
		t.Errorf("err = %v, want ErrActorNotInParty", err)
	}
	if _, err := svc.SelectActor(ctx, "camp_0404", "pc_001"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHotSwap(t *testing.T) {
	t.Parallel()
	svc := NewService(nil, &mock.Narrator{})

	if svc.Detector().Mode() != conflict.ModeStateDiff {
		t.Errorf("default detector = %q", svc.Detector().Mode())
	}
	svc.SetDetector(conflict.TextHeuristic{})
	if svc.Detector().Mode() != conflict.ModeTextHeuristic {
		t.Errorf("detector = %q", svc.Detector().Mode())
	}

	if svc.NarratorTimeout() != DefaultNarratorTimeout {
		t.Errorf("default timeout = %v", svc.NarratorTimeout())
	}
	svc.SetNarratorTimeout(5 * time.Second)
	if svc.NarratorTimeout() != 5*time.Second {
		t.Errorf("timeout = %v", svc.NarratorTimeout())
	}
	svc.SetNarratorTimeout(0)
	if svc.NarratorTimeout() != DefaultNarratorTimeout {
		t.Errorf("zero timeout = %v, want default", svc.NarratorTimeout())
	}

	tools := []string{"move"}
	svc.SetDefaultAllowlist(tools)
	tools[0] = "changed"
	if got := svc.DefaultAllowlist(); len(got) != 1 || got[0] != "move" {
		t.Errorf("allowlist = %v", got)
	}
	svc.SetDefaultAllowlist(nil)
	if got := svc.DefaultAllowlist(); len(got) != len(campaign.DefaultAllowlist()) {
		t.Errorf("allowlist = %v, want defaults", got)
	}
}
