package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ManifestRepository resolves pipeline ids to manifests.
type ManifestRepository interface {
	Get(pipelineID string) (*Manifest, error)

	// List returns the ids of all known pipelines.
	List() ([]string, error)
}

// FileRepository loads manifests from a directory of <id>.yaml files. Files
// are read on every Get so manifest edits take effect without a restart.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a repository over dir, which must exist.
func NewFileRepository(dir string) (*FileRepository, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest path %s is not a directory", dir)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) Get(pipelineID string) (*Manifest, error) {
	if pipelineID == "" || strings.ContainsAny(pipelineID, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineID)
	}

	path := filepath.Join(r.dir, pipelineID+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineID)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.ID == "" {
		m.ID = pipelineID
	}
	if m.ID != pipelineID {
		return nil, fmt.Errorf("manifest %s declares id %q, expected %q", path, m.ID, pipelineID)
	}
	if len(m.Components) == 0 {
		return nil, fmt.Errorf("manifest %s has no components", path)
	}
	return &m, nil
}

func (r *FileRepository) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

// InMemoryRepository holds manifests registered programmatically. Used in
// tests and as a fallback when no manifest directory is configured.
type InMemoryRepository struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{manifests: make(map[string]*Manifest)}
}

// Register adds or replaces a manifest under its own id.
func (r *InMemoryRepository) Register(m *Manifest) error {
	if m == nil || m.ID == "" {
		return fmt.Errorf("manifest must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ID] = m
	return nil
}

func (r *InMemoryRepository) Get(pipelineID string) (*Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[pipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineID)
	}
	return m, nil
}

func (r *InMemoryRepository) List() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.manifests))
	for id := range r.manifests {
		ids = append(ids, id)
	}
	return ids, nil
}
