// Package processor diffs a search result against the ledger and publishes
// the records that have not been seen yet.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/ledger"
	"github.com/JakeFAU/bid-monitor/internal/metrics"
)

// Stage names the pipeline step a record failed in.
type Stage string

// Pipeline stages.
const (
	StageMedia   Stage = "media"
	StageRender  Stage = "render"
	StagePublish Stage = "publish"
)

// RecordError reports a failure isolated to one record.
type RecordError struct {
	Name        string
	Fingerprint string
	Stage       Stage
	Err         error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %q (%s) failed at %s: %v", e.Name, e.Fingerprint, e.Stage, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Result summarizes one Process call.
type Result struct {
	Found     int
	New       int
	Published int
	Failures  []error
	Ledger    ledger.Snapshot
}

// Ledger is the persistence side the processor writes through.
type Ledger interface {
	Save(ctx context.Context, snap ledger.Snapshot)
}

// Deps holds the per-record capabilities.
type Deps struct {
	Media    bid.MediaFetcher
	Renderer bid.CardRenderer
	Poster   bid.Poster
	Cleaner  bid.ArtifactCleaner
	Ledger   Ledger
	Clock    bid.Clock
}

// Processor runs new records through media, render and publish.
type Processor struct {
	deps   Deps
	pause  time.Duration
	logger *zap.Logger
	sleep  func(context.Context, time.Duration)
}

// New constructs a Processor. pause is waited after every new record.
func New(deps Deps, pause time.Duration, logger *zap.Logger) (*Processor, error) {
	if deps.Media == nil || deps.Renderer == nil || deps.Poster == nil || deps.Ledger == nil || deps.Clock == nil {
		return nil, fmt.Errorf("processor requires media, renderer, poster, ledger and clock")
	}
	if deps.Cleaner == nil {
		deps.Cleaner = noopCleaner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		deps:   deps,
		pause:  pause,
		logger: logger.Named("processor"),
		sleep:  pauseContext,
	}, nil
}

// Process publishes the unseen records of raw and returns the updated ledger.
func (p *Processor) Process(ctx context.Context, raw bid.RawBatch, snap ledger.Snapshot) Result {
	res := Result{Ledger: snap}

	var records []bid.Record
	if len(raw) == 0 {
		p.logger.Info("empty search result")
		return res
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		p.logger.Error("malformed search result", zap.Error(err), zap.Int("bytes", len(raw)))
		return res
	}
	res.Found = len(records)
	if res.Found == 0 {
		p.logger.Info("no records published for date")
		return res
	}

	pending := make([]bid.Record, 0, len(records))
	queued := make(map[string]struct{}, len(records))
	for _, rec := range records {
		fp := ledger.Fingerprint(rec)
		if _, dup := queued[fp]; dup || snap.Contains(fp) {
			metrics.ObserveRecord("seen")
			p.logger.Info("record already posted", zap.String("name", rec.DisplayName()), zap.String("hash", fp))
			continue
		}
		metrics.ObserveRecord("new")
		p.logger.Info("new record", zap.String("name", rec.DisplayName()), zap.String("hash", fp))
		queued[fp] = struct{}{}
		pending = append(pending, rec)
	}
	res.New = len(pending)
	p.logger.Info("records diffed", zap.Int("found", res.Found), zap.Int("new", res.New))

	for i, rec := range pending {
		next, err := p.handle(ctx, rec, res.Ledger)
		if err != nil {
			metrics.ObserveRecord("failed")
			p.logger.Error("record failed", zap.Error(err))
			res.Failures = append(res.Failures, err)
		} else {
			metrics.ObserveRecord("published")
			res.Ledger = next
			res.Published++
		}
		p.logger.Info("record progress", zap.Int("index", i+1), zap.Int("total", res.New))
		p.sleep(ctx, p.pause)
	}

	p.deps.Ledger.Save(ctx, res.Ledger)
	p.logger.Info(fmt.Sprintf("%d/%d published", res.Published, res.New))
	return res
}

// handle runs one record through the pipeline. Cleanup always runs and
// capability panics become a RecordError.
func (p *Processor) handle(ctx context.Context, rec bid.Record, snap ledger.Snapshot) (next ledger.Snapshot, err error) {
	fp := ledger.Fingerprint(rec)
	var mediaPath, cardPath string
	stage := StageMedia

	fail := func(cause error) *RecordError {
		return &RecordError{Name: rec.DisplayName(), Fingerprint: fp, Stage: stage, Err: cause}
	}

	defer func() {
		p.deps.Cleaner.Cleanup(mediaPath, cardPath)
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("record handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			next = snap
			err = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	mediaPath, err = p.deps.Media.FetchMedia(ctx, rec.SubjectCode, rec.Name)
	if err != nil {
		return snap, fail(err)
	}
	if mediaPath == "" {
		p.logger.Info("no photo available", zap.String("name", rec.DisplayName()))
	}

	stage = StageRender
	cardPath, err = p.deps.Renderer.RenderCard(ctx, rec, mediaPath)
	if err != nil {
		return snap, fail(err)
	}
	if cardPath == "" {
		return snap, fail(fmt.Errorf("renderer returned no card"))
	}

	stage = StagePublish
	if err := p.deps.Poster.Publish(ctx, rec, cardPath); err != nil {
		return snap, fail(err)
	}

	next = snap.With(ledger.NewEntry(rec, p.deps.Clock.Now()))
	p.deps.Ledger.Save(ctx, next)
	p.logger.Info("record published", zap.String("name", rec.DisplayName()), zap.String("hash", fp))
	return next, nil
}

type noopCleaner struct{}

func (noopCleaner) Cleanup(string, string) {}

func pauseContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
