package turn

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/conflict"
	"github.com/MrWong99/arbiter/internal/narrator"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/types"
)

// MaxRetries is the number of times a conflicting attempt is redrafted.
// A turn therefore makes at most MaxRetries+1 narrator calls.
const MaxRetries = 2

// Status is the settled outcome of a turn.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Request is one turn submission.
type Request struct {
	CampaignID string `json:"campaign_id"`
	UserInput  string `json:"user_input"`

	// ActorID overrides the campaign's active actor for this turn.
	ActorID string `json:"actor_id,omitempty"`
}

// Response is the settled result of a turn. A failed turn carries an empty
// narrative, no calls or actions, no tool feedback, and the conflicts of
// every attempt; its state summary is the last committed state.
type Response struct {
	Status         Status                `json:"status"`
	TurnID         string                `json:"turn_id,omitempty"`
	NarrativeText  string                `json:"narrative_text"`
	DialogType     campaign.DialogType   `json:"dialog_type"`
	ToolCalls      []types.ToolCall      `json:"tool_calls"`
	AppliedActions []types.AppliedAction `json:"applied_actions"`
	ToolFeedback   *types.ToolFeedback   `json:"tool_feedback"`
	ConflictReport *types.ConflictReport `json:"conflict_report"`
	StateSummary   campaign.StateSummary `json:"state_summary"`
}

// draft is the parsed narrator proposal of one attempt.
type draft struct {
	text       string
	dialogType campaign.DialogType
	source     campaign.DialogSource
	calls      []types.ToolCall
}

// attempt is the outcome of applying one draft.
type attempt struct {
	draft
	applied   []types.AppliedAction
	feedback  *types.ToolFeedback
	before    campaign.Snapshot
	conflicts []types.ConflictItem
}

// SubmitTurn runs one turn. Lookup failures, a non-party actor and narrator
// errors (including timeouts) are returned as errors and leave stored state
// untouched. Retry exhaustion is not an error; it yields a [StatusFailed]
// response.
func (s *Service) SubmitTurn(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, span := observe.StartSpan(ctx, "turn.Submit",
		trace.WithAttributes(attribute.String(observe.AttrCampaignID, req.CampaignID)),
	)
	defer span.End()

	start := time.Now()
	outcome := "error"
	if s.metrics != nil {
		s.metrics.ActiveTurns.Add(ctx, 1)
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.ActiveTurns.Add(ctx, -1)
			s.metrics.RecordTurn(ctx, outcome, time.Since(start).Seconds())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	unlock := s.locks.Lock(req.CampaignID)
	defer unlock()

	c, err := s.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}
	if c.EnsureMinimumState() {
		if err := s.store.SaveCampaign(ctx, c); err != nil {
			return nil, fmt.Errorf("turn: save repaired campaign: %w", err)
		}
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = c.Selected.ActiveActorID
	}
	if !c.InParty(actorID) {
		return nil, fmt.Errorf("turn: actor %q: %w", actorID, ErrActorNotInParty)
	}

	ctx = observe.WithScope(ctx, observe.Scope{CampaignID: c.ID, ActorID: actorID})
	span.SetAttributes(attribute.String(observe.AttrActorID, actorID))
	log := observe.Logger(ctx)
	log.Debug("turn started")

	detector := s.Detector()
	prompt := SystemPrompt(c)
	debug := ""
	var (
		last    *attempt
		history []types.ConflictItem
	)

	for retries := 0; retries <= MaxRetries; retries++ {
		d, err := s.draft(ctx, c, prompt, req.UserInput, debug)
		if err != nil {
			return nil, err
		}

		a := s.apply(ctx, c, actorID, d, detector)
		if len(a.conflicts) == 0 {
			resp, err := s.commit(ctx, c, actorID, req.UserInput, a, retries, history)
			if err != nil {
				return nil, err
			}
			outcome = string(StatusCommitted)
			span.SetAttributes(attribute.Int(observe.AttrAttempt, retries), attribute.String("turn.status", outcome))
			log.Info("turn committed", "turn_id", resp.TurnID, "retries", retries, "applied", len(a.applied))
			return resp, nil
		}

		c.Restore(a.before)
		span.AddEvent("turn.rollback", trace.WithAttributes(
			attribute.Int(observe.AttrAttempt, retries),
			attribute.Int("conflicts", len(a.conflicts)),
		))
		last = a
		history = append(history, a.conflicts...)
		s.recordConflicts(ctx, a.conflicts)
		if retries < MaxRetries {
			if s.metrics != nil {
				s.metrics.TurnRetries.Add(ctx, 1)
			}
			log.Warn("turn conflicted, retrying", "retry", retries+1, "conflicts", len(a.conflicts))
			debug = DebugAddendum(a.conflicts, c.StateSummary(actorID))
		}
	}

	outcome = string(StatusFailed)
	span.SetAttributes(attribute.Int(observe.AttrAttempt, MaxRetries), attribute.String("turn.status", outcome))
	log.Warn("turn failed, retries exhausted", "retries", MaxRetries, "conflicts", len(history))
	return &Response{
		Status:         StatusFailed,
		DialogType:     last.dialogType,
		ToolCalls:      []types.ToolCall{},
		AppliedActions: []types.AppliedAction{},
		ConflictReport: &types.ConflictReport{Retries: MaxRetries, Conflicts: history},
		StateSummary:   c.StateSummary(actorID),
	}, nil
}

// draft asks the narrator for a proposal under the narrator timeout.
func (s *Service) draft(ctx context.Context, c *campaign.Campaign, prompt, input, debug string) (draft, error) {
	ctx, cancel := context.WithTimeout(ctx, s.NarratorTimeout())
	defer cancel()

	out, err := s.narrator.Generate(ctx, narrator.Request{
		SystemPrompt:  prompt,
		UserInput:     input,
		DebugAddendum: debug,
	})
	if err != nil {
		return draft{}, fmt.Errorf("turn: narrator: %w", err)
	}
	if out == nil {
		return draft{}, fmt.Errorf("turn: narrator: %w", narrator.ErrEmptyResponse)
	}

	dt, src := campaign.ResolveDialogType(out.DialogType, c.Settings.Dialog.AutoTypeEnabled)
	return draft{
		text:       out.AssistantText,
		dialogType: dt,
		source:     src,
		calls:      ParseToolCalls(out.ToolCalls),
	}, nil
}

// apply snapshots c, executes the draft's calls and runs detector.
func (s *Service) apply(ctx context.Context, c *campaign.Campaign, actorID string, d draft, detector conflict.Detector) *attempt {
	a := &attempt{draft: d, before: c.TakeSnapshot()}
	a.applied, a.feedback = s.executor.Execute(ctx, c, actorID, d.calls)
	a.conflicts = detector.Detect(conflict.Input{
		NarrativeText:  d.text,
		DialogType:     d.dialogType,
		AppliedActions: a.applied,
		ToolFeedback:   a.feedback,
		Before:         a.before,
		After:          c.TakeSnapshot(),
	})
	return a
}

// commit persists a conflict-free attempt and appends its turn log entry.
// history holds the conflicts of the attempts discarded before it.
func (s *Service) commit(ctx context.Context, c *campaign.Campaign, actorID, input string, a *attempt, retries int, history []types.ConflictItem) (*Response, error) {
	if len(a.applied) > 0 {
		if err := s.store.SaveCampaign(ctx, c); err != nil {
			return nil, fmt.Errorf("turn: save campaign: %w", err)
		}
	}

	var report *types.ConflictReport
	if retries > 0 {
		report = &types.ConflictReport{Retries: retries, Conflicts: history}
	}

	turnID, err := s.store.NextTurnID(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("turn: next turn id: %w", err)
	}
	summary := c.StateSummary(actorID)
	entry := campaign.TurnLogEntry{
		TurnID:           turnID,
		Timestamp:        s.now().UTC(),
		UserInput:        input,
		DialogType:       a.dialogType,
		DialogTypeSource: a.source,
		SettingsRevision: c.SettingsRevision,
		NarrativeText:    a.text,
		ToolCalls:        a.calls,
		AppliedActions:   a.applied,
		ToolFeedback:     a.feedback,
		ConflictReport:   report,
		StateSummary:     summary,
	}
	if err := s.store.AppendTurnLog(ctx, c.ID, entry); err != nil {
		return nil, fmt.Errorf("turn: append turn log: %w", err)
	}

	return &Response{
		Status:         StatusCommitted,
		TurnID:         turnID,
		NarrativeText:  a.text,
		DialogType:     a.dialogType,
		ToolCalls:      a.calls,
		AppliedActions: a.applied,
		ToolFeedback:   a.feedback,
		ConflictReport: report,
		StateSummary:   summary,
	}, nil
}

func (s *Service) recordConflicts(ctx context.Context, items []types.ConflictItem) {
	if s.metrics == nil {
		return
	}
	for _, it := range items {
		s.metrics.RecordConflict(ctx, string(it.Type))
	}
}
