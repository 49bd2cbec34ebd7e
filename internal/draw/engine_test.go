package draw_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/obs"
	"prizedraw/internal/optrack"
	"prizedraw/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingNotifier struct {
	mu        sync.Mutex
	selected  []draw.PendingWinner
	confirmed []draw.PendingWinner
	// holdersAtCall captures lock holders seen when the notifier ran
	reg           *lockreg.Registry
	holdersAtCall []int
}

func (n *recordingNotifier) NotifyWinnerSelected(_ context.Context, w draw.PendingWinner) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.selected = append(n.selected, w)
	n.holdersAtCall = append(n.holdersAtCall, n.reg.Diagnostics().ActiveHolders)
	return nil
}

func (n *recordingNotifier) NotifyPaymentConfirmed(_ context.Context, w draw.PendingWinner, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, w)
	return nil
}

type lastIndex struct{}

func (lastIndex) Intn(n int) int { return n - 1 }

type failingLedger struct {
	*storage.Store
	err error
}

func (f failingLedger) RecordSelection(context.Context, draw.PendingWinner, draw.HistoryRecord) error {
	return f.err
}

type panickingSource struct{}

func (panickingSource) EligibleParticipants(context.Context, draw.DrawType, string) ([]draw.Participant, error) {
	panic("participant index corrupted")
}

type harness struct {
	engine   *draw.Engine
	store    *storage.Store
	reg      *lockreg.Registry
	tracker  *optrack.Tracker
	notifier *recordingNotifier
	clock    fixedClock
}

func newHarness(t *testing.T, mutate func(*draw.Config)) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "draw.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := fixedClock{t: time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)}
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	store := storage.NewStore(db, draw.DefaultCatalog(), clock)
	tracker := optrack.New(nil, nil, metrics)
	reg := lockreg.NewRegistry(lockreg.Config{Operations: tracker, Metrics: metrics})
	notifier := &recordingNotifier{reg: reg}

	cfg := draw.Config{
		Registry:     reg,
		Tracker:      tracker,
		Participants: store,
		Ledger:       store,
		Notifier:     notifier,
		Clock:        clock,
		Metrics:      metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &harness{
		engine:   draw.NewEngine(cfg),
		store:    store,
		reg:      reg,
		tracker:  tracker,
		notifier: notifier,
		clock:    clock,
	}
}

func (h *harness) enroll(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, h.store.Enroll(context.Background(), "daily", draw.Participant{
			ID:         fmt.Sprintf("p%d", i),
			AccountRef: fmt.Sprintf("acct-%d", i),
		}))
	}
}

func TestConcurrentRunDrawSelectsExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.enroll(t, 5)

	const callers = 12
	results := make([]draw.DrawResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = h.engine.RunDraw(context.Background(), "daily")
		}()
	}
	close(start)
	wg.Wait()

	counts := map[draw.Outcome]int{}
	for i, r := range results {
		require.NoError(t, errs[i])
		counts[r.Outcome]++
		require.Equal(t, "2026-03-10", r.Period)
	}
	require.Equal(t, 1, counts[draw.WinnerSelected])
	require.Equal(t, callers-1, counts[draw.AlreadyRun])

	pending, err := h.store.PendingForPeriod(context.Background(), "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	hist, err := h.store.ReadHistory(context.Background(), "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, pending[0].ID, hist[0].WinnerID)

	require.Len(t, h.notifier.selected, 1)
	require.Zero(t, h.reg.Diagnostics().ActiveHolders)
	require.Empty(t, h.tracker.Active())
}

func TestRunDrawTwiceInSamePeriodIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	h.enroll(t, 3)
	ctx := context.Background()

	first, err := h.engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, first.Outcome)
	require.NotNil(t, first.Winner)
	require.Equal(t, int64(10_00), first.Winner.PrizeAmount)
	require.Equal(t, []int{0}, h.notifier.holdersAtCall, "notify must run after locks are released")

	second, err := h.engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.AlreadyRun, second.Outcome)
	require.Nil(t, second.Winner)
	require.Len(t, h.notifier.selected, 1)

	// a different draw type is independent
	require.NoError(t, h.store.Enroll(ctx, "weekly", draw.Participant{ID: "p1", AccountRef: "acct-1"}))
	weekly, err := h.engine.RunDraw(ctx, "weekly")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, weekly.Outcome)
	require.Equal(t, "2026-W11", weekly.Period)
}

func TestRunDrawWithNoEligibleParticipants(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.NoEligibleParticipants, res.Outcome)
	require.Zero(t, h.reg.Diagnostics().ActiveHolders)
	require.Empty(t, h.tracker.Active())

	hist, err := h.store.ReadHistory(ctx, "daily", "2026-03-10")
	require.NoError(t, err)
	require.Empty(t, hist)
	require.Empty(t, h.notifier.selected)

	// not marked as drawn: once someone enrolls the draw can run
	h.enroll(t, 1)
	res, err = h.engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, res.Outcome)
}

func TestRunDrawPicksWithRandomSource(t *testing.T) {
	h := newHarness(t, func(c *draw.Config) { c.Rand = lastIndex{} })
	h.enroll(t, 5)

	res, err := h.engine.RunDraw(context.Background(), "daily")
	require.NoError(t, err)
	require.Equal(t, "p5", res.Winner.ParticipantID)
	require.Equal(t, "acct-5", res.Winner.AccountRef)
}

func TestRunDrawUsesEveryParticipant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 60 && len(seen) < 3; i++ {
		h := newHarness(t, nil)
		h.enroll(t, 3)
		res, err := h.engine.RunDraw(context.Background(), "daily")
		require.NoError(t, err)
		seen[res.Winner.ParticipantID] = true
	}
	require.Len(t, seen, 3)
}

func TestRunDrawLedgerFailureReleasesEverything(t *testing.T) {
	boom := errors.New("disk full")
	var store *storage.Store
	h := newHarness(t, func(c *draw.Config) {
		store = c.Ledger.(*storage.Store)
		c.Ledger = failingLedger{Store: store, err: boom}
	})
	h.enroll(t, 2)

	res, err := h.engine.RunDraw(context.Background(), "daily")
	require.ErrorIs(t, err, boom)
	require.Equal(t, draw.Failed, res.Outcome)
	require.Zero(t, h.reg.Diagnostics().ActiveHolders)
	require.Empty(t, h.tracker.Active())
	require.Empty(t, h.notifier.selected)

	pending, err := store.PendingForPeriod(context.Background(), "daily", "2026-03-10")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRunDrawPanicBecomesFailure(t *testing.T) {
	h := newHarness(t, func(c *draw.Config) { c.Participants = panickingSource{} })

	res, err := h.engine.RunDraw(context.Background(), "daily")
	require.Error(t, err)
	require.Equal(t, draw.Failed, res.Outcome)
	require.Zero(t, h.reg.Diagnostics().ActiveHolders)
	require.Empty(t, h.tracker.Active())
}

func TestRunDrawTimesOutWhenLocksAreBusy(t *testing.T) {
	h := newHarness(t, func(c *draw.Config) { c.LockTimeout = 60 * time.Millisecond })
	h.enroll(t, 2)

	blocker, err := h.reg.Acquire(lockreg.WithOwner(context.Background(), "report-job"), lockreg.PendingWinners, 0)
	require.NoError(t, err)

	res, err := h.engine.RunDraw(context.Background(), "daily")
	require.ErrorIs(t, err, lockreg.ErrTimedOut)
	require.Equal(t, draw.TimedOut, res.Outcome)
	require.Equal(t, 1, h.reg.Diagnostics().ActiveHolders)
	require.Empty(t, h.tracker.Active())
	blocker.Release()

	// a timed-out draw had no side effects and can be retried
	res, err = h.engine.RunDraw(context.Background(), "daily")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, res.Outcome)
}

func TestRunDrawUnknownType(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.RunDraw(context.Background(), "hourly")
	require.ErrorIs(t, err, draw.ErrUnknownDrawType)
	require.Equal(t, draw.Failed, res.Outcome)
}

func TestPendingWinnersLists(t *testing.T) {
	h := newHarness(t, nil)
	h.enroll(t, 2)
	ctx := context.Background()

	_, err := h.engine.RunDraw(ctx, "daily")
	require.NoError(t, err)

	list, err := h.engine.PendingWinners(ctx, "daily")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, draw.StatusPending, list[0].Status)
}

func TestPeriodFormats(t *testing.T) {
	ts := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)

	p, err := draw.Period(draw.Daily, ts, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-01-01", p)

	// 2026-01-01 is a Thursday, so it belongs to ISO week 1 of 2026
	p, err = draw.Period(draw.Weekly, ts, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-W01", p)

	p, err = draw.Period(draw.Monthly, ts, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-01", p)

	tokyo := time.FixedZone("JST", 9*3600)
	p, err = draw.Period(draw.Daily, ts, tokyo)
	require.NoError(t, err)
	require.Equal(t, "2026-01-02", p)

	_, err = draw.Period("hourly", ts, nil)
	require.ErrorIs(t, err, draw.ErrInvalidCadence)
}
