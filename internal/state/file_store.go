package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore persists check outcomes as JSON on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore returns a JSON-backed state store.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Load reads state from disk. Missing or corrupt files return an empty state with a warning.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save writes state to disk atomically.
func (s *FileStore) Save(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, st)
}

// Update applies fn to the outcome stored under key and persists the result.
// The previous outcome is returned, or nil if none was stored.
func (s *FileStore) Update(ctx context.Context, key string, fn func(prev *Outcome) Outcome) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var prev *Outcome
	if existing, ok := loaded.Endpoints[key]; ok {
		copied := existing
		prev = &copied
	}
	loaded.Endpoints[key] = fn(prev)

	if err := s.save(ctx, loaded); err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *FileStore) load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Msg("state file missing, starting fresh")
			return State{Endpoints: map[string]Outcome{}}, nil
		}
		return State{}, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn().Str("path", s.path).Err(err).Msg("state file corrupt, starting fresh")
		return State{Endpoints: map[string]Outcome{}}, nil
	}
	if st.Endpoints == nil {
		st.Endpoints = map[string]Outcome{}
	}
	return st, nil
}

func (s *FileStore) save(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.Endpoints == nil {
		st.Endpoints = map[string]Outcome{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	if err := json.NewEncoder(tempFile).Encode(st); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}
