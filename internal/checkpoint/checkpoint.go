package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Checkpoint is the durable resume state for one project: the high-water
// mark of observed update timestamps plus the set of issue keys already
// stored. Both only ever grow.
type Checkpoint struct {
	LastUpdate time.Time
	Processed  map[string]struct{}
}

// checkpointFile is the on-disk representation.
type checkpointFile struct {
	LastUpdateTimestamp time.Time `json:"last_update_timestamp"`
	ProcessedKeys       []string  `json:"processed_keys"`
}

// Store keeps per-project checkpoints in memory and persists them with
// atomic file replacement. A single orchestrator owns the store during a
// run; it is not safe for concurrent use.
type Store struct {
	dir      string
	logger   *zap.Logger
	projects map[string]*Checkpoint
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}
	return &Store{
		dir:      dir,
		logger:   logger,
		projects: make(map[string]*Checkpoint),
	}, nil
}

// Load returns the checkpoint for project, reading it from disk on first
// access. A missing or unreadable file yields a zero-value checkpoint:
// epoch watermark, empty processed set.
func (s *Store) Load(project string) *Checkpoint {
	if cp, ok := s.projects[project]; ok {
		return cp
	}

	cp := &Checkpoint{Processed: make(map[string]struct{})}
	s.projects[project] = cp

	data, err := os.ReadFile(s.path(project))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting fresh",
				zap.String("project", project),
				zap.Error(err),
			)
		}
		return cp
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn("checkpoint corrupted, starting fresh",
			zap.String("project", project),
			zap.Error(err),
		)
		return cp
	}

	cp.LastUpdate = file.LastUpdateTimestamp
	for _, key := range file.ProcessedKeys {
		cp.Processed[key] = struct{}{}
	}
	return cp
}

// IsProcessed reports whether the issue has already been durably stored.
func (s *Store) IsProcessed(project, key string) bool {
	_, ok := s.Load(project).Processed[key]
	return ok
}

// MarkProcessed adds key to the project's processed set. Idempotent.
func (s *Store) MarkProcessed(project, key string) {
	s.Load(project).Processed[key] = struct{}{}
}

// AdvanceWatermark raises the project's watermark to ts if it is later
// than the current value. The watermark never moves backwards.
func (s *Store) AdvanceWatermark(project string, ts time.Time) {
	cp := s.Load(project)
	if ts.After(cp.LastUpdate) {
		cp.LastUpdate = ts
	}
}

// Flush persists the project's in-memory state. The file is written to a
// temporary path and renamed into place, so a crash mid-flush leaves the
// previous checkpoint intact. Safe to call repeatedly.
func (s *Store) Flush(project string) error {
	cp := s.Load(project)

	keys := make([]string, 0, len(cp.Processed))
	for key := range cp.Processed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data, err := json.MarshalIndent(checkpointFile{
		LastUpdateTimestamp: cp.LastUpdate,
		ProcessedKeys:       keys,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint for %s: %w", project, err)
	}
	data = append(data, '\n')

	return writeAtomic(s.path(project), data)
}

// FlushAll flushes every project loaded so far.
func (s *Store) FlushAll() error {
	for project := range s.projects {
		if err := s.Flush(project); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) path(project string) string {
	return filepath.Join(s.dir, project+".json")
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
