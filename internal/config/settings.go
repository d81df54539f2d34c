package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"hadash/internal/model"
)

// SettingsStore persists the URL/token pair entered in the UI.
//
// Only those two fields are stored. Reads go to disk every time so a
// hand-edited file is picked up without a restart.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load returns the persisted connection. A missing file is not an error
// and yields an empty Connection.
func (s *SettingsStore) Load() (model.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conn model.Connection
	if s.path == "" {
		return conn, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return conn, nil
	}
	if err != nil {
		return conn, err
	}
	if err := yaml.Unmarshal(data, &conn); err != nil {
		return model.Connection{}, fmt.Errorf("parse settings: %w", err)
	}
	return conn, nil
}

// Save overwrites the persisted connection.
func (s *SettingsStore) Save(conn model.Connection) error {
	if s.path == "" {
		return errors.New("settings path is empty")
	}
	conn.URL = strings.TrimRight(strings.TrimSpace(conn.URL), "/")
	conn.Token = strings.TrimSpace(conn.Token)

	data, err := yaml.Marshal(conn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, data)
}

// Resolver picks the connection for each outbound call.
//
// Each field is resolved independently: explicit value, then the
// persisted value, then the configured default. Blank strings count as
// absent.
type Resolver struct {
	Store    *SettingsStore
	Defaults model.Connection
}

func NewResolver(store *SettingsStore, defaults model.Connection) *Resolver {
	return &Resolver{Store: store, Defaults: defaults}
}

// Resolve merges explicit over persisted over default. A settings file
// that cannot be read is treated as absent.
func (r *Resolver) Resolve(explicit model.Connection) model.Connection {
	var persisted model.Connection
	if r.Store != nil {
		if c, err := r.Store.Load(); err == nil {
			persisted = c
		}
	}

	return model.Connection{
		URL:   strings.TrimRight(firstNonBlank(explicit.URL, persisted.URL, r.Defaults.URL), "/"),
		Token: firstNonBlank(explicit.Token, persisted.Token, r.Defaults.Token),
	}
}

// Connection resolves with no explicit values.
func (r *Resolver) Connection() model.Connection {
	return r.Resolve(model.Connection{})
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
