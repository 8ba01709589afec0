package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
	"github.com/JakeFAU/bid-monitor/internal/ledger"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeMedia struct {
	fail map[string]error
	none map[string]bool
}

func (m *fakeMedia) FetchMedia(_ context.Context, code, _ string) (string, error) {
	if err := m.fail[code]; err != nil {
		return "", err
	}
	if m.none[code] {
		return "", nil
	}
	return "media/" + code + ".jpg", nil
}

type fakeRenderer struct {
	fail  map[string]error
	empty map[string]bool
	panic map[string]bool
	seen  []string
}

func (r *fakeRenderer) RenderCard(_ context.Context, rec bid.Record, mediaPath string) (string, error) {
	r.seen = append(r.seen, rec.SubjectCode+"="+mediaPath)
	if r.panic[rec.SubjectCode] {
		panic("chrome crashed")
	}
	if err := r.fail[rec.SubjectCode]; err != nil {
		return "", err
	}
	if r.empty[rec.SubjectCode] {
		return "", nil
	}
	return "cards/" + rec.SubjectCode + ".png", nil
}

type fakePoster struct {
	fail      map[string]error
	published []string
}

func (p *fakePoster) Publish(_ context.Context, rec bid.Record, cardPath string) error {
	if err := p.fail[rec.SubjectCode]; err != nil {
		return err
	}
	p.published = append(p.published, rec.SubjectCode+"@"+cardPath)
	return nil
}

type cleanupCall struct{ media, card string }

type recordingCleaner struct {
	calls []cleanupCall
}

func (c *recordingCleaner) Cleanup(media, card string) {
	c.calls = append(c.calls, cleanupCall{media, card})
}

type memoryLedger struct {
	mu    sync.Mutex
	saved []ledger.Snapshot
}

func (l *memoryLedger) Save(_ context.Context, snap ledger.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saved = append(l.saved, snap)
}

func (l *memoryLedger) last() ledger.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.saved) == 0 {
		return ledger.Snapshot{}
	}
	return l.saved[len(l.saved)-1]
}

type harness struct {
	media    *fakeMedia
	renderer *fakeRenderer
	poster   *fakePoster
	cleaner  *recordingCleaner
	ledger   *memoryLedger
	pauses   []time.Duration
	proc     *Processor
}

var now = time.Date(2024, 2, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*60*60))

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		media:    &fakeMedia{},
		renderer: &fakeRenderer{},
		poster:   &fakePoster{},
		cleaner:  &recordingCleaner{},
		ledger:   &memoryLedger{},
	}
	p, err := New(Deps{
		Media:    h.media,
		Renderer: h.renderer,
		Poster:   h.poster,
		Cleaner:  h.cleaner,
		Ledger:   h.ledger,
		Clock:    fixedClock{t: now},
	}, time.Second, zap.NewNop())
	require.NoError(t, err)
	p.sleep = func(_ context.Context, d time.Duration) { h.pauses = append(h.pauses, d) }
	h.proc = p
	return h
}

func batch(codes ...string) bid.RawBatch {
	out := "["
	for i, c := range codes {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"nome":"Atleta %s","codigo_atleta":%s,"contrato_numero":"C%s","data_publicacao":"01/02/2024","clube":"X"}`, c, c, c)
	}
	return bid.RawBatch(out + "]")
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, 0, nil)
	require.Error(t, err)
}

func TestTwoNewRecordsArePublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res := h.proc.Process(context.Background(), batch("1", "2"), ledger.Snapshot{})

	require.Equal(t, 2, res.Found)
	require.Equal(t, 2, res.New)
	require.Equal(t, 2, res.Published)
	require.Empty(t, res.Failures)
	require.Equal(t, []string{"1@cards/1.png", "2@cards/2.png"}, h.poster.published)
	require.Equal(t, 2, res.Ledger.Len())

	for _, e := range res.Ledger.Entries() {
		require.NotEmpty(t, e.PostedAt)
		require.Equal(t, "2024-02-01T12:00:00-03:00", e.PostedAt)
		require.Equal(t, e.Hash, ledger.Fingerprint(bid.Record{SubjectCode: e.SubjectCode, ContractNumber: e.ContractNumber, PublicationDate: e.PublicationDate}))
	}

	// once per publish plus the final save
	require.Len(t, h.ledger.saved, 3)
	require.Equal(t, 1, h.ledger.saved[0].Len())
	require.Equal(t, 2, h.ledger.last().Len())
	require.Equal(t, []time.Duration{time.Second, time.Second}, h.pauses)
}

func TestProcessIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := h.proc.Process(context.Background(), batch("1", "2"), ledger.Snapshot{})
	require.Equal(t, 2, first.Published)

	second := h.proc.Process(context.Background(), batch("1", "2"), first.Ledger)
	require.Equal(t, 2, second.Found)
	require.Zero(t, second.New)
	require.Zero(t, second.Published)
	require.Len(t, h.poster.published, 2)
	require.Len(t, h.cleaner.calls, 2)
}

func TestDuplicateRowsInBatchPublishOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res := h.proc.Process(context.Background(), batch("7", "7"), ledger.Snapshot{})
	require.Equal(t, 2, res.Found)
	require.Equal(t, 1, res.New)
	require.Equal(t, 1, res.Published)
	require.Len(t, h.poster.published, 1)
}

func TestRenderFailureIsIsolated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.renderer.fail = map[string]error{"2": errors.New("template error")}

	res := h.proc.Process(context.Background(), batch("1", "2", "3"), ledger.Snapshot{})
	require.Equal(t, 3, res.New)
	require.Equal(t, 2, res.Published)
	require.Equal(t, []string{"1@cards/1.png", "3@cards/3.png"}, h.poster.published)
	require.Len(t, res.Failures, 1)

	var recErr *RecordError
	require.ErrorAs(t, res.Failures[0], &recErr)
	require.Equal(t, StageRender, recErr.Stage)
	require.Equal(t, "Atleta 2", recErr.Name)

	fp2 := ledger.Fingerprint(bid.Record{SubjectCode: "2", ContractNumber: "C2", PublicationDate: "01/02/2024"})
	require.Equal(t, fp2, recErr.Fingerprint)
	require.False(t, res.Ledger.Contains(fp2))
	require.Equal(t, 2, res.Ledger.Len())
	require.Len(t, h.cleaner.calls, 3)
}

func TestFailureStages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness)
		stage Stage
	}{
		{"media", func(h *harness) { h.media.fail = map[string]error{"1": errors.New("404 page")} }, StageMedia},
		{"render", func(h *harness) { h.renderer.fail = map[string]error{"1": errors.New("boom")} }, StageRender},
		{"empty card", func(h *harness) { h.renderer.empty = map[string]bool{"1": true} }, StageRender},
		{"render panic", func(h *harness) { h.renderer.panic = map[string]bool{"1": true} }, StageRender},
		{"publish", func(h *harness) { h.poster.fail = map[string]error{"1": errors.New("quota")} }, StagePublish},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			tc.setup(h)

			res := h.proc.Process(context.Background(), batch("1"), ledger.Snapshot{})
			require.Zero(t, res.Published)
			require.Len(t, res.Failures, 1)
			var recErr *RecordError
			require.ErrorAs(t, res.Failures[0], &recErr)
			require.Equal(t, tc.stage, recErr.Stage)
			require.Zero(t, res.Ledger.Len())
			require.Len(t, h.cleaner.calls, 1)
		})
	}
}

func TestCleanupReceivesProducedPaths(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.poster.fail = map[string]error{"2": errors.New("quota")}
	h.media.none = map[string]bool{"3": true}

	h.proc.Process(context.Background(), batch("1", "2", "3"), ledger.Snapshot{})
	require.Equal(t, []cleanupCall{
		{"media/1.jpg", "cards/1.png"},
		{"media/2.jpg", "cards/2.png"},
		{"", "cards/3.png"},
	}, h.cleaner.calls)
	require.Contains(t, h.renderer.seen, "3=")
}

func TestMissingPhotoIsNotFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.media.none = map[string]bool{"1": true}

	res := h.proc.Process(context.Background(), batch("1"), ledger.Snapshot{})
	require.Equal(t, 1, res.Published)
	require.Empty(t, res.Failures)
}

func TestMalformedOrEmptyInput(t *testing.T) {
	t.Parallel()

	inputs := map[string]bid.RawBatch{
		"nil":       nil,
		"empty":     bid.RawBatch(""),
		"garbage":   bid.RawBatch("<html>oops</html>"),
		"object":    bid.RawBatch(`{"erro":"x"}`),
		"empty arr": bid.RawBatch("[]"),
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			existing := ledger.Snapshot{}.With(ledger.Entry{Hash: "keep"})
			res := h.proc.Process(context.Background(), raw, existing)
			require.Zero(t, res.Published)
			require.Empty(t, res.Failures)
			require.True(t, res.Ledger.Contains("keep"))
			require.Empty(t, h.poster.published)
		})
	}
}

func TestRecordErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("root")
	err := &RecordError{Name: "A", Fingerprint: "f", Stage: StagePublish, Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "publish")
}
