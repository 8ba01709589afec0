// Package fetcher performs one CAPTCHA-gated search against the registry.
//
// A run acquires a single session token and then loops CAPTCHA attempts
// until the search is accepted or the attempt budget is spent.
package fetcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/metrics"
)

// HardAttemptCeiling caps the configured attempt budget.
const HardAttemptCeiling = 50

// Defaults applied when Config fields are zero.
const (
	DefaultMinCaptchaLength = 3
	DefaultRejectionDelay   = time.Second
)

// Config tunes the attempt loop.
type Config struct {
	MaxAttempts      int
	MinCaptchaLength int
	RejectionDelay   time.Duration
}

// Deps holds the remote capabilities used by a run.
type Deps struct {
	Session    bid.SessionProvider
	Challenges bid.ChallengeSource
	Recognizer bid.Recognizer
	Searcher   bid.Searcher
}

// Fetcher drives the attempt loop.
type Fetcher struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New constructs a Fetcher. The attempt budget is clamped to
// [1, HardAttemptCeiling].
func New(cfg Config, deps Deps, logger *zap.Logger) (*Fetcher, error) {
	if deps.Session == nil || deps.Challenges == nil || deps.Recognizer == nil || deps.Searcher == nil {
		return nil, fmt.Errorf("fetcher requires session, challenge, recognizer and searcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 || cfg.MaxAttempts > HardAttemptCeiling {
		cfg.MaxAttempts = HardAttemptCeiling
	}
	if cfg.MinCaptchaLength <= 0 {
		cfg.MinCaptchaLength = DefaultMinCaptchaLength
	}
	if cfg.RejectionDelay < 0 {
		cfg.RejectionDelay = 0
	}
	return &Fetcher{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("fetcher"),
		sleep:  sleepContext,
	}, nil
}

// MaxAttempts reports the effective attempt budget.
func (f *Fetcher) MaxAttempts() int {
	return f.cfg.MaxAttempts
}

// Run searches the registry for targetDate and returns the accepted body.
func (f *Fetcher) Run(ctx context.Context, targetDate string) (bid.RawBatch, error) {
	token, err := f.deps.Session.AcquireToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bid.ErrSession, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", bid.ErrSession)
	}
	f.logger.Info("session token acquired", zap.String("date", targetDate))

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := f.logger.With(zap.Int("attempt", attempt), zap.Int("max_attempts", f.cfg.MaxAttempts))

		body, outcome, err := f.attempt(ctx, token, targetDate, log)
		metrics.ObserveCaptchaAttempt(string(outcome))
		switch outcome {
		case bid.AttemptAccepted:
			log.Info("search accepted", zap.Int("bytes", len(body)))
			return body, nil
		case bid.AttemptRejected:
			log.Info("captcha rejected by registry")
			if err := f.sleep(ctx, f.cfg.RejectionDelay); err != nil {
				return nil, err
			}
		case bid.AttemptOCRSkipped:
			// logged inside attempt
		default:
			log.Warn("attempt failed", zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", bid.ErrCaptchaExhausted, f.cfg.MaxAttempts)
}

// attempt runs one CAPTCHA round. A panic in a capability counts as a
// failed attempt.
func (f *Fetcher) attempt(ctx context.Context, token, date string, log *zap.Logger) (body bid.RawBatch, outcome bid.AttemptOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("attempt panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			body, outcome, err = nil, bid.AttemptError, fmt.Errorf("attempt panic: %v", r)
		}
	}()

	image, err := f.deps.Challenges.FetchChallenge(ctx)
	if err != nil {
		return nil, bid.AttemptError, fmt.Errorf("fetch captcha: %w", err)
	}
	text, err := f.deps.Recognizer.Recognize(ctx, image)
	if err != nil {
		return nil, bid.AttemptError, fmt.Errorf("recognize captcha: %w", err)
	}
	text = strings.TrimSpace(text)
	if len([]rune(text)) < f.cfg.MinCaptchaLength {
		log.Warn("captcha text too short, skipping", zap.String("text", text))
		return nil, bid.AttemptOCRSkipped, nil
	}
	log.Debug("captcha recognized", zap.String("text", text))

	resp, err := f.deps.Searcher.Submit(ctx, token, text, date)
	if err != nil {
		return nil, bid.AttemptError, fmt.Errorf("submit search: %w", err)
	}
	if resp.IsCaptchaRejection() {
		return nil, bid.AttemptRejected, nil
	}
	return bid.RawBatch(resp.Body), bid.AttemptAccepted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
