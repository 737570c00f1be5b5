package session

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/synology-mcp/internal/adapters/realflock"
	"github.com/acolita/synology-mcp/internal/adapters/realfs"
	"github.com/acolita/synology-mcp/internal/ports"
)

const storeLockTimeout = 5 * time.Second

// EndpointState is what survives a restart for one endpoint. Session tokens
// are never persisted.
type EndpointState struct {
	Endpoint             string    `yaml:"endpoint" json:"endpoint"`
	Username             string    `yaml:"username,omitempty" json:"username,omitempty"`
	Kind                 Kind      `yaml:"kind,omitempty" json:"kind,omitempty"`
	PreferredDestination string    `yaml:"preferred_destination,omitempty" json:"preferred_destination,omitempty"`
	LastLogin            time.Time `yaml:"last_login,omitempty" json:"last_login,omitempty"`
}

type stateFile struct {
	Endpoints []EndpointState `yaml:"endpoints"`
}

// StateStore persists per-endpoint state in a YAML file guarded by a
// cross-process lock.
type StateStore struct {
	path   string
	states map[string]EndpointState
	mu     sync.RWMutex
	fs     ports.FileSystem
	locker ports.FileLocker
}

// StateStoreOption configures a StateStore.
type StateStoreOption func(*StateStore)

// WithFileSystem sets the filesystem used by StateStore.
func WithFileSystem(fs ports.FileSystem) StateStoreOption {
	return func(s *StateStore) {
		s.fs = fs
	}
}

// WithStorePath sets a custom storage path.
func WithStorePath(path string) StateStoreOption {
	return func(s *StateStore) {
		s.path = path
	}
}

// WithFileLocker sets the locker taken around every write.
func WithFileLocker(l ports.FileLocker) StateStoreOption {
	return func(s *StateStore) {
		s.locker = l
	}
}

// NewStateStore creates a state store, loading any existing file.
func NewStateStore(opts ...StateStoreOption) *StateStore {
	store := &StateStore{
		states: make(map[string]EndpointState),
		fs:     realfs.New(),
		locker: realflock.New(),
	}
	for _, opt := range opts {
		opt(store)
	}
	if store.path == "" {
		store.path = store.defaultPath()
	}
	store.load()
	return store
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

func (s *StateStore) defaultPath() string {
	home, err := s.fs.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	cacheDir := filepath.Join(home, ".cache", "synology-mcp")
	if err := s.fs.MkdirAll(cacheDir, 0700); err != nil {
		slog.Warn("failed to create cache dir, using /tmp", slog.String("error", err.Error()))
		cacheDir = "/tmp"
	}
	return filepath.Join(cacheDir, "state.yaml")
}

// Get returns the state of endpoint.
func (s *StateStore) Get(endpoint string) (EndpointState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[endpoint]
	return st, ok
}

// All returns every stored state ordered by endpoint.
func (s *StateStore) All() []EndpointState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EndpointState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// Update applies fn to the state of endpoint and persists the result.
func (s *StateStore) Update(endpoint string, fn func(*EndpointState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[endpoint]
	st.Endpoint = endpoint
	fn(&st)
	s.states[endpoint] = st
	s.persist()
}

// Delete removes the state of endpoint.
func (s *StateStore) Delete(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, endpoint)
	s.persist()
}

func (s *StateStore) load() {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load state store", slog.String("error", err.Error()))
		}
		return
	}

	var file stateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("failed to parse state store", slog.String("error", err.Error()))
		return
	}
	for _, st := range file.Endpoints {
		if st.Endpoint != "" {
			s.states[st.Endpoint] = st
		}
	}
}

// persist writes the states to a temporary file and renames it into place
// while holding the file lock. Failures are logged; the in-memory state
// stays authoritative.
func (s *StateStore) persist() {
	file := stateFile{Endpoints: make([]EndpointState, 0, len(s.states))}
	for _, st := range s.states {
		file.Endpoints = append(file.Endpoints, st)
	}
	sort.Slice(file.Endpoints, func(i, j int) bool { return file.Endpoints[i].Endpoint < file.Endpoints[j].Endpoint })

	data, err := yaml.Marshal(&file)
	if err != nil {
		slog.Warn("failed to marshal state store", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeLockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(ctx, s.path)
	if err != nil {
		slog.Warn("failed to lock state store", slog.String("error", err.Error()))
		return
	}
	defer func() {
		if err := unlock(); err != nil {
			slog.Warn("failed to unlock state store", slog.String("error", err.Error()))
		}
	}()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		slog.Warn("failed to create state directory", slog.String("error", err.Error()))
		return
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0600); err != nil {
		slog.Warn("failed to write state store", slog.String("error", err.Error()))
		return
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		slog.Warn("failed to replace state store", slog.String("error", err.Error()))
		if err := s.fs.Remove(tmp); err != nil {
			slog.Warn("failed to remove temporary state file", slog.String("error", err.Error()))
		}
	}
}
