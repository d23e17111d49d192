package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/arbiter/internal/campaign"
)

// Schema is the SQL DDL for the campaign tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id         TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS turn_log (
    campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    seq         INT  NOT NULL,
    entry       JSONB NOT NULL,
    PRIMARY KEY (campaign_id, seq)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Campaigns and turn log
// entries are stored as JSONB documents.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over db. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// NextCampaignID implements [Store].
func (s *PostgresStore) NextCampaignID(ctx context.Context) (string, error) {
	const query = `
		SELECT COALESCE(MAX(CAST(substring(id FROM 6) AS INT)), 0)
		FROM campaigns
		WHERE id ~ '^camp_[0-9]+$'`

	var highest int
	if err := s.db.QueryRow(ctx, query).Scan(&highest); err != nil {
		return "", fmt.Errorf("store: next campaign id: %w", err)
	}
	return CampaignID(highest + 1), nil
}

// CreateCampaign implements [Store].
func (s *PostgresStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	if err := prepareSave(c); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal campaign %q: %w", c.ID, err)
	}

	const query = `INSERT INTO campaigns (id, data, created_at) VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(ctx, query, c.ID, data, createdAt(c)); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
		}
		return fmt.Errorf("store: create campaign %q: %w", c.ID, err)
	}
	return nil
}

// SaveCampaign implements [Store].
func (s *PostgresStore) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	if err := prepareSave(c); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal campaign %q: %w", c.ID, err)
	}

	const query = `UPDATE campaigns SET data = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, c.ID, data)
	if err != nil {
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return nil
}

// GetCampaign implements [Store].
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	const query = `SELECT data FROM campaigns WHERE id = $1`

	var data []byte
	if err := s.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get campaign %q: %w", id, err)
	}

	var c campaign.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("store: decode campaign %q: %w", id, err)
	}
	if err := finishLoad(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCampaigns implements [Store].
func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]campaign.Summary, error) {
	const query = `
		SELECT id,
		       COALESCE(data->'selected'->>'world_id', ''),
		       COALESCE(data->'selected'->>'active_actor_id', ''),
		       created_at
		FROM campaigns
		ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	defer rows.Close()

	out := []campaign.Summary{}
	for rows.Next() {
		var sum campaign.Summary
		if err := rows.Scan(&sum.ID, &sum.WorldID, &sum.ActiveActorID, &sum.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan campaign summary: %w", err)
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	return out, nil
}

// NextTurnID implements [Store].
func (s *PostgresStore) NextTurnID(ctx context.Context, campaignID string) (string, error) {
	const query = `SELECT count(*) FROM turn_log WHERE campaign_id = $1`

	var n int
	if err := s.db.QueryRow(ctx, query, campaignID).Scan(&n); err != nil {
		return "", fmt.Errorf("store: next turn id %q: %w", campaignID, err)
	}
	return TurnID(n + 1), nil
}

// AppendTurnLog implements [Store]. Concurrent appends to one campaign race
// on the sequence number and one of them fails; callers serialise turns per
// campaign.
func (s *PostgresStore) AppendTurnLog(ctx context.Context, campaignID string, entry campaign.TurnLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal turn %q: %w", entry.TurnID, err)
	}

	const query = `
		INSERT INTO turn_log (campaign_id, seq, entry)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2
		FROM turn_log WHERE campaign_id = $1`

	if _, err := s.db.Exec(ctx, query, campaignID, data); err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, campaignID)
		}
		return fmt.Errorf("store: append turn %q: %w", campaignID, err)
	}
	return nil
}

// TurnLog implements [Store].
func (s *PostgresStore) TurnLog(ctx context.Context, campaignID string) ([]campaign.TurnLogEntry, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, campaignID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("store: read turn log %q: %w", campaignID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, campaignID)
	}

	rows, err := s.db.Query(ctx, `SELECT entry FROM turn_log WHERE campaign_id = $1 ORDER BY seq`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("store: read turn log %q: %w", campaignID, err)
	}
	defer rows.Close()

	out := []campaign.TurnLogEntry{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan turn log %q: %w", campaignID, err)
		}
		var e campaign.TurnLogEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("store: decode turn log %q: %w", campaignID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read turn log %q: %w", campaignID, err)
	}
	return out, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

func createdAt(c *campaign.Campaign) time.Time {
	if c.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return c.CreatedAt
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyError checks for a foreign-key violation (SQLSTATE 23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
