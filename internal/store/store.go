// Package store persists campaigns and their append-only turn logs.
//
// Two backends implement [Store]: [FileStore] keeps one directory per campaign
// with a JSON document and a JSONL turn log, and [PostgresStore] keeps the
// same documents in JSONB columns. Both normalise maps on the way in and out,
// so callers always see reachability lists sorted and connections derived.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/arbiter/internal/campaign"
)

var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("store: campaign not found")

	// ErrAlreadyExists is returned by CreateCampaign for a taken id.
	ErrAlreadyExists = errors.New("store: campaign already exists")
)

// Store is the persistence collaborator of the turn engine.
//
// Implementations must be safe for concurrent use. They do not serialise
// turns; the orchestrator holds a per-campaign lock around every
// read-modify-write cycle.
type Store interface {
	// NextCampaignID returns the next free "camp_NNNN" id.
	NextCampaignID(ctx context.Context) (string, error)

	// CreateCampaign stores a new campaign. It fails with [ErrAlreadyExists]
	// when the id is taken.
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error

	// SaveCampaign validates and normalises c's map, then overwrites the
	// stored campaign.
	SaveCampaign(ctx context.Context, c *campaign.Campaign) error

	// GetCampaign loads a campaign, migrating legacy map layouts. Returns
	// [ErrNotFound] when absent.
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)

	// ListCampaigns returns summaries of all campaigns ordered by id.
	ListCampaigns(ctx context.Context) ([]campaign.Summary, error)

	// NextTurnID returns the id the next appended turn will carry.
	NextTurnID(ctx context.Context, campaignID string) (string, error)

	// AppendTurnLog appends entry to the campaign's turn log.
	AppendTurnLog(ctx context.Context, campaignID string, entry campaign.TurnLogEntry) error

	// TurnLog returns the campaign's turn log in append order.
	TurnLog(ctx context.Context, campaignID string) ([]campaign.TurnLogEntry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// CampaignID formats the n-th campaign id.
func CampaignID(n int) string { return fmt.Sprintf("camp_%04d", n) }

// TurnID formats the n-th turn id.
func TurnID(n int) string { return fmt.Sprintf("turn_%04d", n) }

// campaignSeq parses the numeric suffix of a "camp_NNNN" id.
func campaignSeq(id string) (int, bool) {
	digits, ok := strings.CutPrefix(id, "camp_")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// prepareSave checks and normalises c's map before it is written.
func prepareSave(c *campaign.Campaign) error {
	if err := c.Map.Require(); err != nil {
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	c.Map.Normalize()
	return nil
}

// finishLoad upgrades and checks a freshly decoded campaign.
func finishLoad(c *campaign.Campaign) error {
	c.Map.Migrate()
	c.Map.Normalize()
	if err := c.Map.Require(); err != nil {
		return fmt.Errorf("store: load campaign %q: %w", c.ID, err)
	}
	return nil
}
