package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPhotoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/foto/123":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/foto/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewPhotoFetcherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPhotoFetcher(Config{URLTemplate: "http://x/foto", Dir: "d"}, nil, nil)
	require.Error(t, err)
	_, err = NewPhotoFetcher(Config{URLTemplate: "http://x/{code}"}, nil, nil)
	require.Error(t, err)
}

func TestFetchMediaSavesPhoto(t *testing.T) {
	t.Parallel()

	srv := newPhotoServer(t)
	dir := filepath.Join(t.TempDir(), "fotos")
	f, err := NewPhotoFetcher(Config{URLTemplate: srv.URL + "/foto/{code}", Dir: dir}, nil, zap.NewNop())
	require.NoError(t, err)

	path, err := f.FetchMedia(context.Background(), "123", "Fulano")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "123.png"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))
}

func TestFetchMediaMissingPhoto(t *testing.T) {
	t.Parallel()

	srv := newPhotoServer(t)
	f, err := NewPhotoFetcher(Config{URLTemplate: srv.URL + "/foto/{code}", Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	path, err := f.FetchMedia(context.Background(), "999", "Sem Foto")
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestFetchMediaServerError(t *testing.T) {
	t.Parallel()

	srv := newPhotoServer(t)
	f, err := NewPhotoFetcher(Config{URLTemplate: srv.URL + "/foto/{code}", Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	_, err = f.FetchMedia(context.Background(), "500", "x")
	require.ErrorContains(t, err, "status 500")
}

func TestFetchMediaRejectsUnsafeCode(t *testing.T) {
	t.Parallel()

	f, err := NewPhotoFetcher(Config{URLTemplate: "http://x/{code}", Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	_, err = f.FetchMedia(context.Background(), "../..", "x")
	require.Error(t, err)
}

func TestExtension(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".png", extension("image/png"))
	require.Equal(t, ".webp", extension("image/webp"))
	require.Equal(t, ".jpg", extension("image/jpeg"))
	require.Equal(t, ".jpg", extension(""))
}

func TestCleanerRemovesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	photo := filepath.Join(dir, "a.jpg")
	card := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(photo, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(card, []byte("y"), 0o600))

	c := NewCleaner(zap.NewNop())
	c.Cleanup(photo, card)
	require.NoFileExists(t, photo)
	require.NoFileExists(t, card)

	require.NotPanics(t, func() {
		c.Cleanup("", filepath.Join(dir, "missing.png"))
	})
}
