// Package publisher holds the message handed to downstream posting channels.
package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

// Message announces one newly registered contract.
type Message struct {
	Record      bid.Record `json:"record"`
	CardURI     string     `json:"card_uri"`
	Caption     string     `json:"caption"`
	PublishedAt time.Time  `json:"published_at"`
}

// Archive stores rendered cards and returns their URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Caption is the post text for a record.
func Caption(r bid.Record) string {
	var b strings.Builder
	b.WriteString("NOVO CONTRATO NO BID\n\n")
	b.WriteString(r.DisplayName())
	if club := r.Attribute("clube"); club != "" {
		b.WriteString("\n")
		b.WriteString(club)
	}
	if r.ContractNumber != "" {
		fmt.Fprintf(&b, "\nContrato: %s", r.ContractNumber)
	}
	if r.PublicationDate != "" {
		fmt.Fprintf(&b, "\nPublicado em %s", r.PublicationDate)
	}
	b.WriteString("\n\n#BID #CBF")
	return b.String()
}

// UploadCard copies the card at cardPath into archive under prefix and
// returns the archived URI.
func UploadCard(ctx context.Context, archive Archive, prefix, cardPath string) (string, error) {
	f, err := os.Open(cardPath) //nolint:gosec // card paths come from the renderer
	if err != nil {
		return "", fmt.Errorf("open card: %w", err)
	}
	defer func() { _ = f.Close() }()

	object := path.Join(strings.Trim(prefix, "/"), filepath.Base(cardPath))
	uri, err := archive.PutObject(ctx, object, "image/png", f)
	if err != nil {
		return "", fmt.Errorf("upload card: %w", err)
	}
	return uri, nil
}
