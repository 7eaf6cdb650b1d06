package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Ref identifies one stored raw issue record.
type Ref struct {
	Project string
	Key     string
}

// Store is the raw record store: one object per issue, keyed by
// {project}/{key}.json. Put overwrites in place when an issue is re-fetched
// after an update.
type Store interface {
	Put(ctx context.Context, project, key string, data []byte) error
	Get(ctx context.Context, project, key string) ([]byte, error)
	// List enumerates stored records, optionally restricted to the given
	// projects. Order is unspecified.
	List(ctx context.Context, projects []string) ([]Ref, error)
}

// FSStore keeps raw records on the local filesystem.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore creates a filesystem store rooted at dir.
func NewFSStore(dir string, logger *zap.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw store directory %s: %w", dir, err)
	}
	return &FSStore{root: dir, logger: logger}, nil
}

func (s *FSStore) Put(ctx context.Context, project, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.path(project, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".raw-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write raw record %s: %w", key, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod raw record %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close raw record %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store raw record %s: %w", key, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, project, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(project, key))
	if err != nil {
		return nil, fmt.Errorf("read raw record %s/%s: %w", project, key, err)
	}
	return data, nil
}

func (s *FSStore) List(ctx context.Context, projects []string) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := projectFilter(projects)

	var refs []Ref
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		project := filepath.Base(filepath.Dir(path))
		if filter != nil {
			if _, ok := filter[project]; !ok {
				return nil
			}
		}
		refs = append(refs, Ref{
			Project: project,
			Key:     strings.TrimSuffix(d.Name(), ".json"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list raw records: %w", err)
	}

	sort.Slice(refs, func(a, b int) bool {
		if refs[a].Project != refs[b].Project {
			return refs[a].Project < refs[b].Project
		}
		return refs[a].Key < refs[b].Key
	})
	return refs, nil
}

func (s *FSStore) path(project, key string) string {
	return filepath.Join(s.root, project, key+".json")
}

func projectFilter(projects []string) map[string]struct{} {
	if len(projects) == 0 {
		return nil
	}
	filter := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		filter[p] = struct{}{}
	}
	return filter
}
