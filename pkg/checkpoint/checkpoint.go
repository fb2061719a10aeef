package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"clothscan/pkg/logger"
	"clothscan/pkg/storage"

	"github.com/goccy/go-json"
)

// Dir is the checkpoint directory under the storage root
const Dir = ".checkpoints"

// Version is the current checkpoint format
const Version = 2

// Checkpoint is the resumable state of one profile ingestion
type Checkpoint struct {
	Profile           string          `json:"profile"`
	Namespace         string          `json:"namespace"`
	UserID            string          `json:"user_id"`
	RunID             string          `json:"run_id"`
	LastProcessedPage int             `json:"last_processed_page"`
	EndCursor         string          `json:"end_cursor"`
	Merged            map[string]bool `json:"merged"` // shortcode -> merged into the store
	TotalMerged       int             `json:"total_merged"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

// Manager reads and writes the checkpoint of one profile
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// NewManager creates a manager for profile's checkpoint under root
func NewManager(root, profile string) (*Manager, error) {
	if profile == "" {
		return nil, fmt.Errorf("profile is required")
	}
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &Manager{
		checkpointPath: filepath.Join(dir, profile+".checkpoint.json"),
		logger:         logger.GetLogger().WithField("profile", profile),
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create starts a fresh checkpoint, replacing any existing one
func (m *Manager) Create(profile, namespace, userID, runID string) (*Checkpoint, error) {
	now := time.Now()
	cp := &Checkpoint{
		Profile:   profile,
		Namespace: namespace,
		UserID:    userID,
		RunID:     runID,
		Merged:    make(map[string]bool),
		CreatedAt: now,
		Version:   Version,
	}
	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}
	m.logger.DebugWithFields("Checkpoint created", map[string]interface{}{
		"path": m.checkpointPath,
	})
	return cp, nil
}

// Load returns the stored checkpoint, or nil when there is none
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version > Version {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported version %d", cp.Version, Version)
	}
	if cp.Merged == nil {
		cp.Merged = make(map[string]bool)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"total_merged": cp.TotalMerged,
		"last_cursor":  cp.EndCursor,
		"updated_at":   cp.UpdatedAt,
	})
	return &cp, nil
}

// Save writes cp atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := storage.WriteFileAtomic(m.checkpointPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// UpdateProgress records the cursor of the next page to fetch
func (m *Manager) UpdateProgress(cp *Checkpoint, endCursor string, page int) error {
	cp.EndCursor = endCursor
	cp.LastProcessedPage = page
	return m.Save(cp)
}

// MarkMerged records that a post's fragment reached the store. It does not save.
func (cp *Checkpoint) MarkMerged(shortcode string) {
	if cp.Merged[shortcode] {
		return
	}
	cp.Merged[shortcode] = true
	cp.TotalMerged++
}

// IsMerged reports whether a post was merged in an earlier run
func (cp *Checkpoint) IsMerged(shortcode string) bool {
	return cp.Merged[shortcode]
}
