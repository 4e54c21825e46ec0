// Package fs provides a file system-based session storage for lettings clients.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Storage keeps session values in a JSON file, one section per API server
type Storage struct {
	mu     sync.RWMutex
	path   string
	server string
	loaded bool
	values map[string]string
}

// sessionFile is the JSON structure stored on disk
type sessionFile struct {
	Servers map[string]map[string]string `json:"servers"`
}

// DefaultPath returns ~/.config/<appName>/session.json
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "lettings"
	}
	return filepath.Join(configDir, appName, "session.json"), nil
}

// New creates a file backed storage for the API at serverURL.
// If path is empty, DefaultPath(appName) is used. The file is read lazily and
// created on the first write.
func New(path, appName, serverURL string) (*Storage, error) {
	if path == "" {
		p, err := DefaultPath(appName)
		if err != nil {
			return nil, err
		}
		path = p
	}
	server, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Storage{path: path, server: server}, nil
}

// normalizeURL normalizes a server URL for use as a section key
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// readFile returns every section of the file, empty if it doesn't exist yet
func (s *Storage) readFile() (*sessionFile, error) {
	file := &sessionFile{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			file.Servers = map[string]map[string]string{}
			return file, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if file.Servers == nil {
		file.Servers = map[string]map[string]string{}
	}
	return file, nil
}

// ensureLoaded must be called with s.mu held for writing
func (s *Storage) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	file, err := s.readFile()
	if err != nil {
		return err
	}
	s.values = file.Servers[s.server]
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.loaded = true
	return nil
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return "", false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Storage) SetMany(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	next := make(map[string]string, len(s.values)+len(values))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range values {
		next[k] = v
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func (s *Storage) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	next := make(map[string]string, len(s.values))
	changed := false
	for k, v := range s.values {
		next[k] = v
	}
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// persist rewrites this server's section, keeping the other sections as they
// are on disk. Caller must hold s.mu.
func (s *Storage) persist(values map[string]string) error {
	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := s.readFile()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		delete(file.Servers, s.server)
	} else {
		file.Servers[s.server] = values
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return writeAtomicFile(s.path, data)
}

// Path returns the path to the session file
func (s *Storage) Path() string {
	return s.path
}

// writeAtomicFile writes data owner-only to a temp file, then renames it over path
func writeAtomicFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
