// ABOUTME: Persistence backends for the registry document.
// ABOUTME: FileStore writes a single JSON document atomically via temp file and rename.

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store persists the full registry table. Save replaces the whole document;
// Load returns the last saved table, or an empty map when nothing has been
// saved yet.
type Store interface {
	Load() (map[string]*Registration, error)
	Save(agents map[string]*Registration) error
}

// document is the on-disk shape of the registry file.
type document struct {
	SavedAt time.Time       `json:"saved_at"`
	Agents  []*Registration `json:"agents"`
}

// FileStore keeps the registry in a single JSON file. Every save writes to a
// temp file in the same directory and renames it over the target, so readers
// always see either the old document or the new one, never a torn write.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories as
// needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load() (map[string]*Registration, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*Registration), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry file %s: %w", s.path, err)
	}

	agents := make(map[string]*Registration, len(doc.Agents))
	for _, rec := range doc.Agents {
		agents[rec.AgentID] = rec
	}
	return agents, nil
}

func (s *FileStore) Save(agents map[string]*Registration) error {
	doc := document{
		SavedAt: time.Now().UTC(),
		Agents:  make([]*Registration, 0, len(agents)),
	}
	for _, rec := range agents {
		doc.Agents = append(doc.Agents, rec)
	}
	sort.Slice(doc.Agents, func(i, j int) bool {
		return doc.Agents[i].AgentID < doc.Agents[j].AgentID
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp registry file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing registry file: %w", err)
	}
	return nil
}

// MemoryStore keeps the table in process memory only. Used in tests and when
// persistence is disabled.
type MemoryStore struct {
	agents map[string]*Registration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (map[string]*Registration, error) {
	out := make(map[string]*Registration, len(s.agents))
	for id, rec := range s.agents {
		out[id] = rec.clone()
	}
	return out, nil
}

func (s *MemoryStore) Save(agents map[string]*Registration) error {
	out := make(map[string]*Registration, len(agents))
	for id, rec := range agents {
		out[id] = rec.clone()
	}
	s.agents = out
	return nil
}
