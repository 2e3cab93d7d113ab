package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sigweihq/agentpay/pkg/constants"
)

const filePerms = 0600 // Owner read/write only

// FileStore keeps the session in a JSON file shaped like browser local storage:
// an object of keys, the session living under constants.SessionStorageKey
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by filePath, creating its directory if needed
func NewFileStore(filePath string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{filePath: filePath}, nil
}

func (s *FileStore) Load(ctx context.Context) (*Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	raw, ok := entries[constants.SessionStorageKey]
	if !ok {
		return nil, nil
	}

	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse stored session: %w", err)
	}
	return &p, nil
}

func (s *FileStore) Save(ctx context.Context, p Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking the save
		entries = make(map[string]json.RawMessage)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	entries[constants.SessionStorageKey] = raw
	return s.write(entries)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		entries = make(map[string]json.RawMessage)
	}
	if _, ok := entries[constants.SessionStorageKey]; !ok && err == nil {
		return nil
	}
	delete(entries, constants.SessionStorageKey)
	return s.write(entries)
}

// read returns the stored entries; a missing file is an empty store
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	entries := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerms); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}
	return nil
}
