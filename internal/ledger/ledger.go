// Package ledger tracks which registry records have already been published.
//
// The ledger is a mapping from a content fingerprint to the metadata of the
// publish that created it. It is loaded at the start of every cycle, saved
// after every successful publish and discarded once per calendar day.
package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	digest "github.com/JakeFAU/bid-monitor/internal/hash/sha256"
	"github.com/JakeFAU/bid-monitor/internal/metrics"
)

// Entry is the persisted metadata for one published record.
type Entry struct {
	Name            string `json:"nome"`
	SubjectCode     string `json:"codigo_atleta"`
	ContractNumber  string `json:"contrato_numero"`
	PublicationDate string `json:"data_publicacao"`
	PostedAt        string `json:"data_postagem"`
	Hash            string `json:"hash"`
}

// Store persists the full ledger mapping.
type Store interface {
	// Load returns the persisted mapping; an absent store yields an empty map.
	Load(ctx context.Context) (map[string]Entry, error)
	// Save replaces the persisted mapping.
	Save(ctx context.Context, entries map[string]Entry) error
	// Reset deletes the persisted mapping; an absent store is not an error.
	Reset(ctx context.Context) error
	Close() error
}

// Fingerprint derives the deduplication key of a record from
// subject_code|contract_number|publication_date.
func Fingerprint(rec bid.Record) string {
	return digest.Joined("|", rec.SubjectCode, rec.ContractNumber, rec.PublicationDate)
}

// NewEntry builds the ledger entry recorded after a successful publish.
func NewEntry(rec bid.Record, postedAt time.Time) Entry {
	return Entry{
		Name:            rec.Name,
		SubjectCode:     rec.SubjectCode,
		ContractNumber:  rec.ContractNumber,
		PublicationDate: rec.PublicationDate,
		PostedAt:        postedAt.Format(time.RFC3339),
		Hash:            Fingerprint(rec),
	}
}

// Ledger wraps a Store with failure-tolerant load/save and day rollover.
type Ledger struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	lastDay string
}

// New constructs a Ledger.
func New(store Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// Load reads the persisted ledger. Any failure is logged and yields an empty
// snapshot.
func (l *Ledger) Load(ctx context.Context) Snapshot {
	entries, err := l.store.Load(ctx)
	if err != nil {
		metrics.ObserveLedgerError("load")
		l.logger.Error("ledger load failed, starting empty", zap.Error(err))
		return Snapshot{}
	}
	snap := NewSnapshot(entries)
	if snap.Len() == 0 {
		l.logger.Info("no ledger found, starting from scratch")
	} else {
		l.logger.Info("ledger loaded", zap.Int("entries", snap.Len()))
	}
	return snap
}

// Save rewrites the persisted ledger. Failures are logged and swallowed so a
// broken store never aborts a cycle.
func (l *Ledger) Save(ctx context.Context, snap Snapshot) {
	if err := l.store.Save(ctx, snap.Entries()); err != nil {
		metrics.ObserveLedgerError("save")
		l.logger.Error("ledger save failed", zap.Int("entries", snap.Len()), zap.Error(err))
		return
	}
	metrics.SetLedgerEntries(snap.Len())
	l.logger.Debug("ledger saved", zap.Int("entries", snap.Len()))
}

// RolloverIfNewDay resets the store when day differs from the last observed
// day. The first call only records the baseline. A failed reset keeps the old
// baseline so the next call retries.
func (l *Ledger) RolloverIfNewDay(ctx context.Context, day string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastDay == "" {
		l.lastDay = day
		l.logger.Info("initial day set", zap.String("day", day))
		return false
	}
	if day == l.lastDay {
		return false
	}

	l.logger.Info("day change detected, clearing ledger",
		zap.String("previous", l.lastDay),
		zap.String("current", day),
	)
	if err := l.store.Reset(ctx); err != nil {
		metrics.ObserveLedgerError("reset")
		l.logger.Error("ledger reset failed", zap.Error(err))
		return false
	}
	l.lastDay = day
	metrics.SetLedgerEntries(0)
	return true
}

// Day returns the last observed day, or "" before the first rollover check.
func (l *Ledger) Day() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDay
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
