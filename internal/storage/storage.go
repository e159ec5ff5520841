// Package storage archives campaign metrics snapshots produced by the
// rollup worker, either as JSON files on disk or in S3 with the latest
// snapshot per campaign mirrored into DynamoDB.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/domain"
)

// ErrNotFound is returned by Latest when no snapshot exists.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStore persists metrics snapshots.
type SnapshotStore interface {
	// Save archives m and makes it the campaign's latest snapshot.
	Save(ctx context.Context, m domain.CampaignMetrics) error
	// Latest returns the most recent snapshot for a campaign.
	Latest(ctx context.Context, campaignID string) (*domain.CampaignMetrics, error)
}

// New builds the store selected by cfg.Type. "none" returns nil.
func New(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, error) {
	switch cfg.Type {
	case "aws":
		s, err := NewAWSStore(ctx, cfg.DynamoDBTable, cfg.S3Bucket, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage: %w", err)
		}
		return s, nil
	case "local", "":
		s, err := NewLocalStore(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// LocalStore writes snapshots under root:
//
//	snapshots/<campaign>/<yyyymmddThhmmss>.json
//	latest/<campaign>.json
type LocalStore struct {
	root string
	mu   sync.Mutex
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) Save(_ context.Context, m domain.CampaignMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	campaign := filepath.Base(m.CampaignID)
	if err := s.saveToFile(filepath.Join("snapshots", campaign), m.ComputedAt.UTC().Format("20060102T150405"), m); err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	if err := s.saveToFile("latest", campaign, m); err != nil {
		return fmt.Errorf("write latest snapshot: %w", err)
	}
	return nil
}

func (s *LocalStore) Latest(_ context.Context, campaignID string) (*domain.CampaignMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m domain.CampaignMetrics
	if err := s.loadFromFile("latest", filepath.Base(campaignID), &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// History returns the archived snapshot file names for a campaign, oldest
// first.
func (s *LocalStore) History(campaignID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "snapshots", filepath.Base(campaignID)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *LocalStore) saveToFile(category, key string, data interface{}) error {
	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, key+".json"))
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (s *LocalStore) loadFromFile(category, key string, data interface{}) error {
	raw, err := os.ReadFile(filepath.Join(s.root, category, key+".json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, data)
}
