// Package media downloads athlete photos and removes per-record artifacts.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CodePlaceholder is replaced with the subject code in the photo URL template.
const CodePlaceholder = "{code}"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Config controls photo downloads.
type Config struct {
	URLTemplate string
	Dir         string
	UserAgent   string
	Timeout     time.Duration
}

// Limiter throttles outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// PhotoFetcher implements bid.MediaFetcher.
type PhotoFetcher struct {
	cfg     Config
	base    *colly.Collector
	limiter Limiter
	logger  *zap.Logger
}

// NewPhotoFetcher validates cfg and prepares the collector. limiter may be nil.
func NewPhotoFetcher(cfg Config, limiter Limiter, logger *zap.Logger) (*PhotoFetcher, error) {
	if !strings.Contains(cfg.URLTemplate, CodePlaceholder) {
		return nil, fmt.Errorf("photo url template must contain %s", CodePlaceholder)
	}
	if cfg.Dir == "" {
		return nil, errors.New("media dir is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.AllowURLRevisit(), colly.IgnoreRobotsTxt())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	return &PhotoFetcher{cfg: cfg, base: c, limiter: limiter, logger: logger.Named("media")}, nil
}

// FetchMedia downloads the photo for subjectCode into the media dir. A
// missing photo (404) yields an empty path and no error.
func (f *PhotoFetcher) FetchMedia(ctx context.Context, subjectCode, name string) (string, error) {
	code := unsafeChars.ReplaceAllString(subjectCode, "")
	if code == "" {
		return "", fmt.Errorf("invalid subject code %q", subjectCode)
	}
	url := strings.ReplaceAll(f.cfg.URLTemplate, CodePlaceholder, code)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return "", err
		}
	}

	var (
		resp     *colly.Response
		fetchErr error
	)
	collector := f.base.Clone()
	collector.OnResponse(func(r *colly.Response) { resp = r })
	collector.OnError(func(_ *colly.Response, err error) { fetchErr = err })

	done := make(chan error, 1)
	go func() { done <- collector.Visit(url) }()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("photo download canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return "", fmt.Errorf("download photo %s: %w", url, err)
		}
	}

	if resp == nil {
		return "", fmt.Errorf("download photo %s: no response", url)
	}
	if resp.StatusCode == http.StatusNotFound || len(resp.Body) == 0 {
		f.logger.Info("no photo available", zap.String("name", name), zap.String("code", code))
		return "", nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("download photo %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(f.cfg.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(f.cfg.Dir, code+extension(resp.Headers.Get("Content-Type")))
	if err := os.WriteFile(path, resp.Body, 0o600); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	f.logger.Debug("photo saved", zap.String("path", path))
	return path, nil
}

func extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
