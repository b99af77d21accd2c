package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore persists string key/value pairs in a JSON file.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first write.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the absolute path of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		s.logger.Warn("failed to read credential store", "path", s.path, "error", err)
		return "", false
	}
	v, ok := items[key]
	return v, ok
}

// Set stores value under key.
func (s *FileStore) Set(key, value string) error {
	return s.update(func(items map[string]string) {
		items[key] = value
	})
}

// Remove deletes key. Removing a missing key is not an error.
func (s *FileStore) Remove(key string) error {
	return s.update(func(items map[string]string) {
		delete(items, key)
	})
}

// Token returns the stored bearer token, or "" when logged out.
func (s *FileStore) Token() string {
	token, _ := s.Get(KeyToken)
	return token
}

// Load returns the stored credential.
func (s *FileStore) Load() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{
		Token:  items[KeyToken],
		UserID: items[KeyUserID],
	}
	if !cred.Valid() {
		return Credential{}, ErrNoCredential
	}
	return cred, nil
}

// Save stores cred, replacing any previous credential.
func (s *FileStore) Save(cred Credential) error {
	if !cred.Valid() {
		return ErrNoCredential
	}
	return s.update(func(items map[string]string) {
		items[KeyToken] = cred.Token
		if cred.UserID != "" {
			items[KeyUserID] = cred.UserID
		} else {
			delete(items, KeyUserID)
		}
	})
}

// Clear removes the credential, leaving unrelated keys intact.
func (s *FileStore) Clear() error {
	return s.update(func(items map[string]string) {
		delete(items, KeyToken)
		delete(items, KeyUserID)
	})
}

// Watch calls onChange whenever the backing file is written, replaced or removed,
// including by other processes. It blocks until ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic writes replace the file, which drops a file watch.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Debug("watching credential store", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credential store watch error", "error", err)
		}
	}
}

// update applies fn to the current contents and writes the result atomically.
func (s *FileStore) update(fn func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return err
	}
	fn(items)
	return s.write(items)
}

// read must be called with mu held.
func (s *FileStore) read() (map[string]string, error) {
	items := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	return items, nil
}

// write must be called with mu held.
func (s *FileStore) write(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}
