// Package file implements a ledger store backed by a single JSON file.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/bid-monitor/internal/ledger"
)

// Config captures the parameters for the file ledger store.
type Config struct {
	// Path is the ledger file location.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store persists the ledger as one pretty-printed JSON object.
type Store struct {
	path string
}

// New creates a file-backed ledger store, creating the parent directory if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("ledger directory %q is not a directory", dir)
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat ledger directory: %w", err)
	}
	return &Store{path: cfg.Path}, nil
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger file. A missing file is an empty ledger.
func (s *Store) Load(_ context.Context) (map[string]ledger.Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]ledger.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	entries := map[string]ledger.Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger file: %w", err)
	}
	return entries, nil
}

// Save writes the ledger to a temporary sibling file and renames it over the
// old one, so readers never see a partial document.
func (s *Store) Save(_ context.Context, entries map[string]ledger.Entry) error {
	if entries == nil {
		entries = map[string]ledger.Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		closeErr := tmp.Close()
		_ = os.Remove(tmpName)
		if closeErr != nil {
			return fmt.Errorf("write temp ledger file: %w (close: %v)", err, closeErr)
		}
		return fmt.Errorf("write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// Reset deletes the ledger file, tolerating its absence.
func (s *Store) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove ledger file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error {
	return nil
}
