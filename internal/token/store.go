package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/desertthunder/kcx/internal/models"
)

// Store is the durable home of the single token record.
//
// Update runs fn against the current record and persists the result atomically.
// If fn returns an error nothing is written.
type Store interface {
	Load(ctx context.Context) (models.TokenRecord, error)
	Update(ctx context.Context, fn func(*models.TokenRecord) error) (models.TokenRecord, error)
}

// FileStore keeps the token record in a JSON document.
//
// Keys it does not own (client ids, redirect uris and the like) are preserved on write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a [FileStore] at path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, _, err := s.read()
	return record, err
}

func (s *FileStore) Update(ctx context.Context, fn func(*models.TokenRecord) error) (models.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.TokenRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, doc, err := s.read()
	if err != nil {
		return models.TokenRecord{}, err
	}

	next := record
	if err := fn(&next); err != nil {
		return record, err
	}

	if err := s.write(next, doc); err != nil {
		return record, err
	}
	return next, nil
}

func (s *FileStore) read() (models.TokenRecord, map[string]json.RawMessage, error) {
	var record models.TokenRecord
	doc := map[string]json.RawMessage{}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return record, doc, nil
	}
	if err != nil {
		return record, nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return record, doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return record, nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return record, doc, nil
}

func (s *FileStore) write(record models.TokenRecord, doc map[string]json.RawMessage) error {
	owned, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(owned, &fields); err != nil {
		return fmt.Errorf("failed to encode token record: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kcx-token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
