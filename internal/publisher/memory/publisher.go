// Package memory contains the dry-run publisher: messages stay in process
// memory and cards go to the configured archive.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/publisher"
)

// DefaultRetention is how many recent messages a Publisher keeps.
const DefaultRetention = 200

// Publisher implements bid.Poster without leaving the process. Only the
// most recent messages are kept.
type Publisher struct {
	archive publisher.Archive
	prefix  string
	clock   bid.Clock
	logger  *zap.Logger
	retain  int

	mu       sync.RWMutex
	messages []publisher.Message
}

// New returns a memory Publisher.
func New(archive publisher.Archive, prefix string, clock bid.Clock, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		archive: archive,
		prefix:  prefix,
		clock:   clock,
		logger:  logger.Named("publisher"),
		retain:  DefaultRetention,
	}
}

// Publish archives the card and records the message.
func (p *Publisher) Publish(ctx context.Context, record bid.Record, cardPath string) error {
	uri, err := publisher.UploadCard(ctx, p.archive, p.prefix, cardPath)
	if err != nil {
		return err
	}
	msg := publisher.Message{
		Record:      record,
		CardURI:     uri,
		Caption:     publisher.Caption(record),
		PublishedAt: p.clock.Now(),
	}

	p.mu.Lock()
	p.messages = append(p.messages, msg)
	if over := len(p.messages) - p.retain; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("post recorded",
		zap.String("name", record.DisplayName()),
		zap.String("card", uri),
	)
	return nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []publisher.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.Message, len(p.messages))
	copy(out, p.messages)
	return out
}
