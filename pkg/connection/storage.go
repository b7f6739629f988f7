package connection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kadirpekel/queryagent/pkg/model"
)

// Storage persists ConnectionConfig records to a single JSON file, keyed by
// id, so connections survive a restart without re-entering credentials.
type Storage struct {
	mu   sync.Mutex
	path string
}

func NewStorage(path string) *Storage {
	return &Storage{path: path}
}

func (s *Storage) Load() (map[string]*model.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*model.ConnectionConfig{}, nil
	}
	if err != nil {
		return nil, err
	}

	var list []*model.ConnectionConfig
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make(map[string]*model.ConnectionConfig, len(list))
	for _, c := range list {
		out[c.ID] = c
	}
	return out, nil
}

func (s *Storage) Save(configs map[string]*model.ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*model.ConnectionConfig, 0, len(configs))
	for _, c := range configs {
		list = append(list, c)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}
