package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	s, err := New(&storage.Client{}, Config{Bucket: "cards"})
	require.NoError(t, err)
	require.Equal(t, "cards", s.bucket)
}

func TestURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gs://cards/2024/01/a.png", URI("cards", "2024/01/a.png"))
}
