// Package turn runs player turns against a campaign and exposes the campaign
// operations the transports need.
//
// A turn is a bounded state machine. The narrator drafts a proposal, the
// executor applies its tool calls to the in-memory campaign, and the conflict
// detector compares the result with the pre-turn snapshot. Conflicting
// attempts are rolled back and retried with a debug addendum up to
// [MaxRetries] times. Only conflict-free attempts are persisted, so the stored
// campaign never holds state the narrator contradicted.
//
// All reads and writes of one campaign are serialised by a per-campaign lock;
// different campaigns proceed in parallel.
package turn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/conflict"
	"github.com/MrWong99/arbiter/internal/executor"
	"github.com/MrWong99/arbiter/internal/narrator"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/store"
)

var (
	// ErrActorNotInParty is returned when the acting or selected actor is not
	// a member of the campaign's party.
	ErrActorNotInParty = campaign.ErrNotInParty

	// ErrInvalidRequest wraps malformed campaign creation requests.
	ErrInvalidRequest = errors.New("turn: invalid request")
)

// DefaultNarratorTimeout bounds a narrator call when no timeout is configured.
const DefaultNarratorTimeout = 30 * time.Second

// Service owns turn orchestration and campaign lifecycle operations.
// It is safe for concurrent use.
type Service struct {
	store    store.Store
	narrator narrator.Narrator
	executor *executor.Executor
	metrics  *observe.Metrics
	now      func() time.Time

	detector  atomic.Pointer[conflict.Detector]
	timeout   atomic.Int64
	allowlist atomic.Pointer[[]string]

	locks    *keyedMutex
	createMu sync.Mutex
}

// Option configures a [Service].
type Option func(*Service)

// WithDetector sets the initial conflict detector. Defaults to
// [conflict.StateDiff].
func WithDetector(d conflict.Detector) Option {
	return func(s *Service) { s.SetDetector(d) }
}

// WithNarratorTimeout sets the initial narrator timeout.
func WithNarratorTimeout(d time.Duration) Option {
	return func(s *Service) { s.SetNarratorTimeout(d) }
}

// WithDefaultAllowlist sets the tool allowlist copied into new campaigns.
func WithDefaultAllowlist(tools []string) Option {
	return func(s *Service) { s.SetDefaultAllowlist(tools) }
}

// WithExecutor replaces the tool executor.
func WithExecutor(e *executor.Executor) Option {
	return func(s *Service) { s.executor = e }
}

// WithMetrics records turn outcomes, retries and conflicts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service persisting through st and drafting through n.
func NewService(st store.Store, n narrator.Narrator, opts ...Option) *Service {
	s := &Service{
		store:    st,
		narrator: n,
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
	s.SetDetector(conflict.StateDiff{})
	s.SetNarratorTimeout(DefaultNarratorTimeout)
	s.SetDefaultAllowlist(nil)
	for _, o := range opts {
		o(s)
	}
	if s.executor == nil {
		s.executor = executor.New(executor.WithClock(s.now), executor.WithMetrics(s.metrics))
	}
	return s
}

// SetDetector swaps the conflict detector. Turns already running keep the
// detector they started with.
func (s *Service) SetDetector(d conflict.Detector) {
	s.detector.Store(&d)
}

// Detector returns the active conflict detector.
func (s *Service) Detector() conflict.Detector {
	return *s.detector.Load()
}

// SetNarratorTimeout swaps the per-call narrator timeout. Non-positive values
// fall back to [DefaultNarratorTimeout].
func (s *Service) SetNarratorTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultNarratorTimeout
	}
	s.timeout.Store(int64(d))
}

// NarratorTimeout returns the active narrator timeout.
func (s *Service) NarratorTimeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// SetDefaultAllowlist swaps the allowlist given to new campaigns. Empty means
// [campaign.DefaultAllowlist].
func (s *Service) SetDefaultAllowlist(tools []string) {
	if len(tools) == 0 {
		tools = campaign.DefaultAllowlist()
	}
	tools = slices.Clone(tools)
	s.allowlist.Store(&tools)
}

// DefaultAllowlist returns a copy of the allowlist given to new campaigns.
func (s *Service) DefaultAllowlist() []string {
	return slices.Clone(*s.allowlist.Load())
}

// CreateRequest describes a campaign to create.
type CreateRequest struct {
	WorldID           string   `json:"world_id"`
	MapID             string   `json:"map_id"`
	PartyCharacterIDs []string `json:"party_character_ids"`
	ActiveActorID     string   `json:"active_actor_id"`
}

// CreateCampaign allocates an id and stores a fresh campaign with the
// starter map.
func (s *Service) CreateCampaign(ctx context.Context, req CreateRequest) (string, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	id, err := s.store.NextCampaignID(ctx)
	if err != nil {
		return "", fmt.Errorf("turn: create campaign: %w", err)
	}
	c, err := campaign.New(campaign.NewParams{
		ID:                id,
		WorldID:           req.WorldID,
		MapID:             req.MapID,
		PartyCharacterIDs: req.PartyCharacterIDs,
		ActiveActorID:     req.ActiveActorID,
		Allowlist:         s.DefaultAllowlist(),
		Now:               s.now(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return "", fmt.Errorf("turn: create campaign: %w", err)
	}
	observe.Logger(observe.WithScope(ctx, observe.Scope{CampaignID: id})).Info("campaign created", "party", len(req.PartyCharacterIDs))
	return id, nil
}

// ListCampaigns returns summaries of every campaign ordered by id.
func (s *Service) ListCampaigns(ctx context.Context) ([]campaign.Summary, error) {
	return s.store.ListCampaigns(ctx)
}

// GetCampaign loads one campaign.
func (s *Service) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// TurnLog returns the committed turns of a campaign in order.
func (s *Service) TurnLog(ctx context.Context, id string) ([]campaign.TurnLogEntry, error) {
	return s.store.TurnLog(ctx, id)
}

// SelectActor makes actorID the campaign's active actor.
func (s *Service) SelectActor(ctx context.Context, id, actorID string) (*campaign.Campaign, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.SelectActor(actorID); err != nil {
		return nil, fmt.Errorf("turn: select actor %q: %w", actorID, err)
	}
	if err := s.store.SaveCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
