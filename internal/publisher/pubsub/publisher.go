// Package pubsub hands new contracts to a Google Cloud Pub/Sub topic. Cards
// are uploaded to the archive first so subscribers receive a gs:// URI.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/publisher"
)

// sendFunc publishes one message and returns its server ID.
type sendFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher implements bid.Poster.
type Publisher struct {
	send    sendFunc
	archive publisher.Archive
	prefix  string
	clock   bid.Clock
	logger  *zap.Logger
}

// New creates a Publisher for topic. Cards are stored through archive under prefix.
func New(topic *pubsub.Topic, archive publisher.Archive, prefix string, clock bid.Clock, logger *zap.Logger) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is not configured")
	}
	send := func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return topic.Publish(ctx, msg).Get(ctx)
	}
	return newPublisher(send, archive, prefix, clock, logger)
}

func newPublisher(send sendFunc, archive publisher.Archive, prefix string, clock bid.Clock, logger *zap.Logger) (*Publisher, error) {
	if archive == nil {
		return nil, fmt.Errorf("card archive is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		send:    send,
		archive: archive,
		prefix:  prefix,
		clock:   clock,
		logger:  logger.Named("pubsub"),
	}, nil
}

// Publish uploads the card and publishes the JSON message.
func (p *Publisher) Publish(ctx context.Context, record bid.Record, cardPath string) error {
	uri, err := publisher.UploadCard(ctx, p.archive, p.prefix, cardPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(publisher.Message{
		Record:      record,
		CardURI:     uri,
		Caption:     publisher.Caption(record),
		PublishedAt: p.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"codigo_atleta":   record.SubjectCode,
			"contrato_numero": record.ContractNumber,
			"data_publicacao": record.PublicationDate,
		},
	}
	id, err := p.send(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	p.logger.Info("contract published",
		zap.String("name", record.DisplayName()),
		zap.String("message_id", id),
		zap.String("card", uri),
	)
	return nil
}
