package payment_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/optrack"
	"prizedraw/internal/payment"
	"prizedraw/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingNotifier struct {
	mu        sync.Mutex
	confirmed []string
}

func (n *countingNotifier) NotifyWinnerSelected(context.Context, draw.PendingWinner) error {
	return nil
}

func (n *countingNotifier) NotifyPaymentConfirmed(_ context.Context, w draw.PendingWinner, operatorID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, w.ID+"/"+operatorID)
	return nil
}

type brokenLedger struct {
	*storage.Store
}

func (brokenLedger) ConfirmPayment(context.Context, draw.PendingWinner, draw.HistoryRecord) error {
	return errors.New("constraint failed")
}

type fixture struct {
	svc      *payment.Service
	store    *storage.Store
	reg      *lockreg.Registry
	notifier *countingNotifier
	winner   draw.PendingWinner
}

// newFixture runs one daily draw so there is a pending winner to confirm.
func newFixture(t *testing.T, ledger func(*storage.Store) draw.Ledger) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "pay.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := fixedClock{t: time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)}
	store := storage.NewStore(db, draw.DefaultCatalog(), clock)
	reg := lockreg.NewRegistry(lockreg.Config{})
	require.NoError(t, store.Enroll(ctx, "daily", draw.Participant{ID: "p1", AccountRef: "acct-1"}))

	engine := draw.NewEngine(draw.Config{
		Registry:     reg,
		Tracker:      optrack.New(nil, nil, nil),
		Participants: store,
		Ledger:       store,
		Clock:        clock,
	})
	res, err := engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, res.Outcome)

	var l draw.Ledger = store
	if ledger != nil {
		l = ledger(store)
	}
	notifier := &countingNotifier{}
	svc := payment.NewService(payment.Config{
		Registry: reg,
		Ledger:   l,
		Notifier: notifier,
		Clock:    fixedClock{t: clock.t.Add(2 * time.Hour)},
	})
	return &fixture{svc: svc, store: store, reg: reg, notifier: notifier, winner: *res.Winner}
}

func TestConfirmThenRepeatIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Confirm(ctx, "acct-1", "op-1", "daily")
	require.NoError(t, err)
	require.Equal(t, payment.Success, res.Outcome)
	require.Equal(t, draw.StatusConfirmed, res.Winner.Status)
	require.Equal(t, "op-1", res.Winner.ConfirmedBy)

	again, err := f.svc.Confirm(ctx, "acct-1", "op-2", "daily")
	require.NoError(t, err)
	require.Equal(t, payment.AlreadyConfirmed, again.Outcome)
	require.Equal(t, "op-1", again.Winner.ConfirmedBy)

	require.Equal(t, []string{f.winner.ID + "/op-1"}, f.notifier.confirmed)

	hist, err := f.store.ReadHistory(ctx, "daily", f.winner.Period)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, draw.EventConfirmed, hist[1].Event)
	require.Equal(t, "op-1", hist[1].OperatorID)

	pending, err := f.store.ListPending(ctx, "daily")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConcurrentConfirmSucceedsOnce(t *testing.T) {
	f := newFixture(t, nil)

	const callers = 10
	outcomes := make([]payment.Outcome, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			res, err := f.svc.Confirm(context.Background(), f.winner.ID, "op", "daily")
			if err != nil {
				t.Errorf("confirm: %v", err)
			}
			outcomes[i] = res.Outcome
		}()
	}
	close(start)
	wg.Wait()

	counts := map[payment.Outcome]int{}
	for _, o := range outcomes {
		counts[o]++
	}
	require.Equal(t, 1, counts[payment.Success])
	require.Equal(t, callers-1, counts[payment.AlreadyConfirmed])
	require.Len(t, f.notifier.confirmed, 1)
	require.Zero(t, f.reg.Diagnostics().ActiveHolders)
}

func TestConfirmUnknownWinner(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Confirm(context.Background(), "nobody", "op", "daily")
	require.NoError(t, err)
	require.Equal(t, payment.NotFound, res.Outcome)

	// scoped to draw type
	res, err = f.svc.Confirm(context.Background(), "acct-1", "op", "weekly")
	require.NoError(t, err)
	require.Equal(t, payment.NotFound, res.Outcome)

	_, err = f.svc.Confirm(context.Background(), "", "op", "daily")
	require.ErrorIs(t, err, payment.ErrInvalidRequest)
	require.Empty(t, f.notifier.confirmed)
}

func TestConfirmFailureLeavesWinnerPending(t *testing.T) {
	f := newFixture(t, func(s *storage.Store) draw.Ledger { return brokenLedger{Store: s} })

	res, err := f.svc.Confirm(context.Background(), "p1", "op", "daily")
	require.Error(t, err)
	require.Equal(t, payment.Failed, res.Outcome)
	require.Zero(t, f.reg.Diagnostics().ActiveHolders)
	require.Empty(t, f.notifier.confirmed)

	w, ok, err := f.store.FindPending(context.Background(), "daily", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, draw.StatusPending, w.Status)
}

func TestConfirmTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	f.svc = payment.NewService(payment.Config{Registry: f.reg, Ledger: f.store, LockTimeout: 50 * time.Millisecond})

	h, err := f.reg.Acquire(lockreg.WithOwner(context.Background(), "audit"), lockreg.Winners, 0)
	require.NoError(t, err)
	defer h.Release()

	res, err := f.svc.Confirm(context.Background(), "p1", "op", "daily")
	require.ErrorIs(t, err, lockreg.ErrTimedOut)
	require.Equal(t, payment.TimedOut, res.Outcome)

	_, ok, err := f.store.FindPending(context.Background(), "daily", "p1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRetriedConfirmByAccountAfterCooldownPaysOnce(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "pay.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &stepClock{t: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	store := storage.NewStore(db, draw.DefaultCatalog(), clock)
	reg := lockreg.NewRegistry(lockreg.Config{})
	require.NoError(t, store.Enroll(ctx, "daily", draw.Participant{ID: "p1", AccountRef: "acct-1"}))

	engine := draw.NewEngine(draw.Config{
		Registry:     reg,
		Tracker:      optrack.New(nil, nil, nil),
		Participants: store,
		Ledger:       store,
		Clock:        clock,
	})
	notifier := &countingNotifier{}
	svc := payment.NewService(payment.Config{Registry: reg, Ledger: store, Notifier: notifier, Clock: clock})

	first, err := engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.WinnerSelected, first.Outcome)

	// day 9: outside the 7 day cooldown, but p1 is still unpaid
	clock.Advance(8 * 24 * time.Hour)
	second, err := engine.RunDraw(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, draw.NoEligibleParticipants, second.Outcome)

	pending, err := store.ListPending(ctx, "daily")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	res, err := svc.Confirm(ctx, "acct-1", "op-1", "daily")
	require.NoError(t, err)
	require.Equal(t, payment.Success, res.Outcome)
	require.Equal(t, first.Winner.ID, res.Winner.ID)

	again, err := svc.Confirm(ctx, "acct-1", "op-1", "daily")
	require.NoError(t, err)
	require.Equal(t, payment.AlreadyConfirmed, again.Outcome)
	require.Equal(t, []string{first.Winner.ID + "/op-1"}, notifier.confirmed)
}
