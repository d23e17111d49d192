package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/arbiter/internal/campaign"
)

const (
	campaignsDir = "campaigns"
	campaignFile = "campaign.json"
	turnLogFile  = "turn_log.jsonl"
)

// FileStore keeps each campaign under {root}/campaigns/{id}/ as an indented
// campaign.json and an append-only turn_log.jsonl.
type FileStore struct {
	root string

	// mu serialises writers within this process. Campaign documents are
	// replaced atomically by rename, so readers never see partial writes.
	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir, creating the campaigns
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, campaignsDir), 0o755); err != nil {
		return nil, fmt.Errorf("store: create %q: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) campaignDir(id string) string {
	return filepath.Join(s.root, campaignsDir, id)
}

// validID rejects ids that would escape the campaigns directory. No campaign
// can live under such an id, so the error wraps [ErrNotFound].
func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return nil
}

// NextCampaignID implements [Store]. It is one past the highest existing
// numeric suffix.
func (s *FileStore) NextCampaignID(_ context.Context) (string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, campaignsDir))
	if err != nil {
		return "", fmt.Errorf("store: next campaign id: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if n, ok := campaignSeq(e.Name()); ok && e.IsDir() && n > highest {
			highest = n
		}
	}
	return CampaignID(highest + 1), nil
}

// CreateCampaign implements [Store].
func (s *FileStore) CreateCampaign(_ context.Context, c *campaign.Campaign) error {
	if err := validID(c.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.campaignDir(c.ID)
	if _, err := os.Stat(filepath.Join(dir, campaignFile)); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create campaign %q: %w", c.ID, err)
	}
	return s.writeCampaign(c)
}

// SaveCampaign implements [Store].
func (s *FileStore) SaveCampaign(_ context.Context, c *campaign.Campaign) error {
	if err := validID(c.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.campaignDir(c.ID)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return s.writeCampaign(c)
}

// writeCampaign writes c through a temp file and rename. Callers hold mu.
func (s *FileStore) writeCampaign(c *campaign.Campaign) error {
	if err := prepareSave(c); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal campaign %q: %w", c.ID, err)
	}

	dir := s.campaignDir(c.ID)
	tmp, err := os.CreateTemp(dir, campaignFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, campaignFile)); err != nil {
		return fmt.Errorf("store: save campaign %q: %w", c.ID, err)
	}
	return nil
}

// GetCampaign implements [Store].
func (s *FileStore) GetCampaign(_ context.Context, id string) (*campaign.Campaign, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.campaignDir(id), campaignFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
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

// ListCampaigns implements [Store]. Directories without a campaign document
// are skipped.
func (s *FileStore) ListCampaigns(_ context.Context) ([]campaign.Summary, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, campaignsDir))
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}

	out := make([]campaign.Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "camp_") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, campaignsDir, e.Name(), campaignFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: list campaigns: %w", err)
		}
		var c campaign.Campaign
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("store: decode campaign %q: %w", e.Name(), err)
		}
		out = append(out, c.Summarize())
	}
	slices.SortFunc(out, func(a, b campaign.Summary) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// NextTurnID implements [Store]. It counts non-blank log lines.
func (s *FileStore) NextTurnID(_ context.Context, campaignID string) (string, error) {
	if err := validID(campaignID); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.campaignDir(campaignID), turnLogFile))
	if errors.Is(err, fs.ErrNotExist) {
		return TurnID(1), nil
	}
	if err != nil {
		return "", fmt.Errorf("store: next turn id %q: %w", campaignID, err)
	}
	n := 0
	for line := range bytes.Lines(data) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return TurnID(n + 1), nil
}

// AppendTurnLog implements [Store].
func (s *FileStore) AppendTurnLog(_ context.Context, campaignID string, entry campaign.TurnLogEntry) error {
	if err := validID(campaignID); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal turn %q: %w", entry.TurnID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.campaignDir(campaignID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, campaignID)
	}
	f, err := os.OpenFile(filepath.Join(dir, turnLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: append turn %q: %w", campaignID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("store: append turn %q: %w", campaignID, err)
	}
	return f.Close()
}

// TurnLog implements [Store]. A campaign without turns yields an empty log.
func (s *FileStore) TurnLog(_ context.Context, campaignID string) ([]campaign.TurnLogEntry, error) {
	if err := validID(campaignID); err != nil {
		return nil, err
	}
	dir := s.campaignDir(campaignID)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, campaignID)
	}

	f, err := os.Open(filepath.Join(dir, turnLogFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []campaign.TurnLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read turn log %q: %w", campaignID, err)
	}
	defer f.Close()

	out := []campaign.TurnLogEntry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e campaign.TurnLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("store: decode turn log %q: %w", campaignID, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: read turn log %q: %w", campaignID, err)
	}
	return out, nil
}

// Ping implements [Store] by checking that the root is still a directory.
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Join(s.root, campaignsDir))
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: ping: %s is not a directory", info.Name())
	}
	return nil
}
