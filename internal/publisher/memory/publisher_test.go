package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	blob "github.com/JakeFAU/bid-monitor/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	card := filepath.Join(dir, "card_1_C1.png")
	require.NoError(t, os.WriteFile(card, []byte("png"), 0o600))

	archive := blob.NewBlobStore()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	pub := New(archive, "cards/", fixedClock{now: now}, nil)

	rec := bid.Record{Name: "Fulano", SubjectCode: "1", ContractNumber: "C1", PublicationDate: "01/02/2024"}
	require.NoError(t, pub.Publish(context.Background(), rec, card))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "memory://cards/card_1_C1.png", msgs[0].CardURI)
	require.Equal(t, rec, msgs[0].Record)
	require.Equal(t, now, msgs[0].PublishedAt)
	require.Contains(t, msgs[0].Caption, "Fulano")

	stored, ok := archive.Object("cards/card_1_C1.png")
	require.True(t, ok)
	require.Equal(t, "png", string(stored))

	msgs[0].CardURI = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].CardURI)
}

func TestPublisherMissingCard(t *testing.T) {
	t.Parallel()

	pub := New(blob.NewBlobStore(), "", fixedClock{}, nil)
	err := pub.Publish(context.Background(), bid.Record{Name: "x"}, filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}

func TestPublisherKeepsRecentMessages(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pub := New(blob.NewBoundedBlobStore(2), "", fixedClock{}, nil)
	pub.retain = 2
	for _, code := range []string{"1", "2", "3"} {
		card := filepath.Join(dir, "card_"+code+".png")
		require.NoError(t, os.WriteFile(card, []byte("png"), 0o600))
		require.NoError(t, pub.Publish(context.Background(), bid.Record{Name: "n" + code, SubjectCode: code}, card))
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "2", msgs[0].Record.SubjectCode)
	require.Equal(t, "3", msgs[1].Record.SubjectCode)
}
