// Package gcs stores the ledger as a single JSON object in a GCS bucket.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/bid-monitor/internal/ledger"
	blob "github.com/JakeFAU/bid-monitor/internal/storage/gcs"
)

// Objects is the subset of blob operations the store needs.
type Objects interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
}

// Store keeps the ledger document at a fixed object path.
type Store struct {
	objects Objects
	object  string
}

// New returns a store writing to object through objects.
func New(objects Objects, object string) (*Store, error) {
	if objects == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return nil, fmt.Errorf("ledger.gcs.object is required")
	}
	return &Store{objects: objects, object: object}, nil
}

// Load downloads and parses the ledger object.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Entry, error) {
	data, err := s.objects.GetObject(ctx, s.object)
	if errors.Is(err, blob.ErrNotFound) {
		return map[string]ledger.Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := map[string]ledger.Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger object: %w", err)
	}
	return entries, nil
}

// Save uploads the full ledger, replacing the previous object.
func (s *Store) Save(ctx context.Context, entries map[string]ledger.Entry) error {
	if entries == nil {
		entries = map[string]ledger.Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if _, err := s.objects.PutObject(ctx, s.object, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload ledger: %w", err)
	}
	return nil
}

// Reset deletes the ledger object.
func (s *Store) Reset(ctx context.Context) error {
	return s.objects.DeleteObject(ctx, s.object)
}

// Close is a no-op; the storage client is owned by the caller.
func (s *Store) Close() error {
	return nil
}
