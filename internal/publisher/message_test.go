package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

func TestCaption(t *testing.T) {
	t.Parallel()

	var rec bid.Record
	require.NoError(t, json.Unmarshal([]byte(`{
		"nome": "Fulano de Tal",
		"codigo_atleta": "1",
		"contrato_numero": "C-1",
		"data_publicacao": "01/02/2024",
		"clube": "Santos FC"
	}`), &rec))

	require.Equal(t,
		"NOVO CONTRATO NO BID\n\nFulano de Tal\nSantos FC\nContrato: C-1\nPublicado em 01/02/2024\n\n#BID #CBF",
		Caption(rec))
	require.Equal(t, "NOVO CONTRATO NO BID\n\n77\n\n#BID #CBF", Caption(bid.Record{SubjectCode: "77"}))
}

type captureArchive struct {
	path string
	ct   string
	data []byte
	err  error
}

func (a *captureArchive) PutObject(_ context.Context, path, contentType string, r io.Reader) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.path, a.ct, a.data = path, contentType, data
	return "test://" + path, nil
}

func TestUploadCard(t *testing.T) {
	t.Parallel()

	card := filepath.Join(t.TempDir(), "card.png")
	require.NoError(t, os.WriteFile(card, []byte("png"), 0o600))

	archive := &captureArchive{}
	uri, err := UploadCard(context.Background(), archive, "/bid/cards/", card)
	require.NoError(t, err)
	require.Equal(t, "test://bid/cards/card.png", uri)
	require.Equal(t, "image/png", archive.ct)
	require.Equal(t, "png", string(archive.data))

	uri, err = UploadCard(context.Background(), archive, "", card)
	require.NoError(t, err)
	require.Equal(t, "test://card.png", uri)

	_, err = UploadCard(context.Background(), &captureArchive{err: errors.New("denied")}, "", card)
	require.ErrorContains(t, err, "denied")

	_, err = UploadCard(context.Background(), archive, "", filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}
