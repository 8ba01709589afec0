// Package pipeline wires the ledger, fetcher and processor into the job the
// scheduler runs on every tick.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/ledger"
	"github.com/JakeFAU/bid-monitor/internal/metrics"
	"github.com/JakeFAU/bid-monitor/internal/processor"
)

// DayLayout formats the day marker used for ledger rollover.
const DayLayout = "2006-01-02"

// Ledger is the subset of *ledger.Ledger a cycle drives.
type Ledger interface {
	RolloverIfNewDay(ctx context.Context, day string) bool
	Load(ctx context.Context) ledger.Snapshot
	Save(ctx context.Context, snap ledger.Snapshot)
}

// Fetcher performs the CAPTCHA-gated search.
type Fetcher interface {
	Run(ctx context.Context, targetDate string) (bid.RawBatch, error)
}

// Processor publishes unseen records.
type Processor interface {
	Process(ctx context.Context, raw bid.RawBatch, snap ledger.Snapshot) processor.Result
}

// Config controls date handling and working directories.
type Config struct {
	Location   *time.Location
	DateFormat string
	WorkDirs   []string
}

// Report describes one finished cycle.
type Report struct {
	RunID      string
	Day        string
	TargetDate string
	RolledOver bool
	Result     processor.Result
	Duration   time.Duration
}

// Cycle runs rollover, load, fetch and process in order.
type Cycle struct {
	cfg       Config
	ledger    Ledger
	fetcher   Fetcher
	processor Processor
	clock     bid.Clock
	ids       bid.IDGenerator
	logger    *zap.Logger
}

// New constructs a Cycle.
func New(cfg Config, l Ledger, f Fetcher, p Processor, clock bid.Clock, ids bid.IDGenerator, logger *zap.Logger) (*Cycle, error) {
	if l == nil || f == nil || p == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("cycle requires ledger, fetcher, processor, clock and id generator")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "02/01/2006"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		cfg:       cfg,
		ledger:    l,
		fetcher:   f,
		processor: p,
		clock:     clock,
		ids:       ids,
		logger:    logger.Named("cycle"),
	}, nil
}

// Run executes one cycle. Record-level failures are reported in the result,
// not as an error; the error covers session and CAPTCHA exhaustion.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	start := c.clock.Now()
	runID, err := c.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	local := start.In(c.cfg.Location)
	report := Report{
		RunID:      runID,
		Day:        local.Format(DayLayout),
		TargetDate: local.Format(c.cfg.DateFormat),
	}
	log := c.logger.With(zap.String("run_id", runID))

	for _, dir := range c.cfg.WorkDirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Warn("failed to create work directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	report.RolledOver = c.ledger.RolloverIfNewDay(ctx, report.Day)
	snap := c.ledger.Load(ctx)
	report.Result.Ledger = snap

	log.Info("searching registry", zap.String("date", report.TargetDate), zap.Int("known", snap.Len()))
	raw, err := c.fetcher.Run(ctx, report.TargetDate)
	if err != nil {
		report.Duration = c.clock.Now().Sub(start)
		metrics.ObserveCycle(outcome(err), report.Duration)
		return report, fmt.Errorf("fetch %s: %w", report.TargetDate, err)
	}
	metrics.MarkSuccess(c.clock.Now())

	report.Result = c.processor.Process(ctx, raw, snap)
	report.Duration = c.clock.Now().Sub(start)
	metrics.ObserveCycle("success", report.Duration)
	log.Info("cycle complete",
		zap.Int("found", report.Result.Found),
		zap.Int("new", report.Result.New),
		zap.Int("published", report.Result.Published),
		zap.Int("failed", len(report.Result.Failures)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, bid.ErrSession):
		return "session_error"
	case errors.Is(err, bid.ErrCaptchaExhausted):
		return "captcha_exhausted"
	default:
		return "error"
	}
}
