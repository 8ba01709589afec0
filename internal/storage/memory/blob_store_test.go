package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "cards/a.png", "image/png", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://cards/a.png", uri)

	payload[0] = 'C'
	got, ok := store.Object("cards/a.png")
	require.True(t, ok)
	require.Equal(t, "content", string(got))
	require.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	require.False(t, ok)
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBoundedBlobStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	store := NewBoundedBlobStore(2)
	ctx := context.Background()
	for _, p := range []string{"a.png", "b.png", "a.png", "c.png"} {
		_, err := store.PutObject(ctx, p, "image/png", strings.NewReader(p))
		require.NoError(t, err)
	}

	require.Equal(t, 2, store.Len())
	_, ok := store.Object("a.png")
	require.False(t, ok)
	for _, p := range []string{"b.png", "c.png"} {
		_, ok := store.Object(p)
		require.True(t, ok, p)
	}
}
