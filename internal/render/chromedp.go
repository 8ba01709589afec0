// Package render produces the card images posted for new contracts using
// headless Chrome.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Config controls card rendering.
type Config struct {
	Dir      string
	Width    int
	Height   int
	Timeout  time.Duration
	ExecPath string
}

// captureFunc loads pageURL in a browser and returns a PNG screenshot.
type captureFunc func(ctx context.Context, pageURL string, width, height int) ([]byte, error)

// Renderer implements bid.CardRenderer.
type Renderer struct {
	cfg         Config
	slot        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	capture     captureFunc
	logger      *zap.Logger
}

// NewChromedp creates a renderer backed by a headless Chrome allocator. The
// browser starts lazily on the first render.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("render dir is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("card size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("allow-file-access-from-files", true),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	r := &Renderer{
		cfg:         cfg,
		slot:        make(chan struct{}, 1),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("render"),
	}
	r.capture = r.screenshot
	return r, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// RenderCard writes the card PNG for record into the render dir and returns
// its path.
func (r *Renderer) RenderCard(ctx context.Context, record bid.Record, mediaPath string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	defer r.release()

	if err := os.MkdirAll(r.cfg.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create render dir: %w", err)
	}
	page, err := NewCard(record, mediaPath, r.cfg.Width, r.cfg.Height).HTML()
	if err != nil {
		return "", err
	}

	base := fileBase(record)
	htmlPath, err := filepath.Abs(filepath.Join(r.cfg.Dir, base+".html"))
	if err != nil {
		return "", fmt.Errorf("resolve card page: %w", err)
	}
	if err := os.WriteFile(htmlPath, page, 0o600); err != nil {
		return "", fmt.Errorf("write card page: %w", err)
	}
	defer func() { _ = os.Remove(htmlPath) }()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	png, err := r.capture(ctx, "file://"+filepath.ToSlash(htmlPath), r.cfg.Width, r.cfg.Height)
	if err != nil {
		return "", err
	}
	if len(png) == 0 {
		return "", errors.New("empty card screenshot")
	}

	cardPath := filepath.Join(r.cfg.Dir, base+".png")
	if err := os.WriteFile(cardPath, png, 0o600); err != nil {
		return "", fmt.Errorf("write card: %w", err)
	}
	r.logger.Debug("card rendered", zap.String("path", cardPath))
	return cardPath, nil
}

func (r *Renderer) screenshot(ctx context.Context, pageURL string, width, height int) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var buf []byte
	err := chromedp.Run(taskCtx,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	select {
	case <-r.slot:
	default:
	}
}

func fileBase(record bid.Record) string {
	base := unsafeChars.ReplaceAllString(record.SubjectCode+"_"+record.ContractNumber, "")
	if base == "" || base == "_" {
		base = "card"
	}
	return "card_" + base
}
