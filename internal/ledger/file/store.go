// Package fileledger stores the dedup ledger as a JSON document on local disk.
package fileledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

const formatVersion = 1

type document struct {
	Version int      `json:"version"`
	IDs     []string `json:"ids"`
}

// Store keeps the full id set in memory and rewrites the file atomically on
// every Persist.
type Store struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// New returns a Store writing to path. The file is created on first Persist.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	return &Store{path: path, ids: make(map[string]struct{})}, nil
}

// Load reads the ledger file. A missing or zero-length file yields no ids;
// anything that does not decode yields crawler.ErrLedgerCorrupted.
func (s *Store) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrLedgerCorrupted, s.path, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", crawler.ErrLedgerCorrupted, s.path, doc.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range doc.IDs {
		s.ids[id] = struct{}{}
	}
	return append([]string(nil), doc.IDs...), nil
}

// Persist adds ids to the stored set and rewrites the file.
func (s *Store) Persist(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	doc := document{Version: formatVersion, IDs: make([]string, 0, len(s.ids))}
	for id := range s.ids {
		doc.IDs = append(doc.IDs, id)
	}
	sort.Strings(doc.IDs)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
