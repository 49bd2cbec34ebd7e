package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func openStore(t *testing.T) (*storage.Store, *storage.DB, *fixedClock) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "prizedraw.db")

	db, err := storage.Open(ctx, storage.Config{Path: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fixedClock{t: time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)}
	return storage.NewStore(db, draw.DefaultCatalog(), clock), db, clock
}

func selection(id string, p draw.Participant, period string, at time.Time) (draw.PendingWinner, draw.HistoryRecord) {
	w := draw.PendingWinner{
		ID: id, DrawType: "daily", Period: period,
		ParticipantID: p.ID, AccountRef: p.AccountRef, DisplayName: p.DisplayName,
		PrizeAmount: 1000, Currency: "USD", SelectedAt: at, Status: draw.StatusPending,
	}
	h := draw.HistoryRecord{
		ID: "h-" + id, DrawType: "daily", Period: period, Event: draw.EventSelected,
		WinnerID: id, ParticipantID: p.ID, AccountRef: p.AccountRef, PrizeAmount: 1000, At: at,
	}
	return w, h
}

func TestMigrateIsIdempotent(t *testing.T) {
	_, db, _ := openStore(t)
	require.NoError(t, db.Migrate(context.Background()))

	var v int
	require.NoError(t, db.QueryRow(`SELECT MAX(version) FROM schema_migrations;`).Scan(&v))
	require.Equal(t, 2, v)
}

func TestEligibleParticipantsHonoursCooldownAndWithdraw(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.Enroll(ctx, "daily", draw.Participant{ID: id, AccountRef: "acct-" + id}))
	}
	require.Error(t, s.Enroll(ctx, "hourly", draw.Participant{ID: "x", AccountRef: "y"}))

	// p1 won three days ago; daily cooldown is seven days
	w, h := selection("w-old", draw.Participant{ID: "p1", AccountRef: "acct-p1"}, "2026-03-07", clock.t.Add(-72*time.Hour))
	require.NoError(t, s.RecordSelection(ctx, w, h))

	ok, err := s.Withdraw(ctx, "daily", "p3")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Withdraw(ctx, "daily", "p3")
	require.NoError(t, err)
	require.False(t, ok)

	eligible, err := s.EligibleParticipants(ctx, "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	require.Equal(t, "p2", eligible[0].ID)

	// past the cooldown, but the old prize is still unpaid
	clock.t = clock.t.Add(8 * 24 * time.Hour)
	eligible, err = s.EligibleParticipants(ctx, "daily", "2026-03-18")
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	require.Equal(t, "p2", eligible[0].ID)

	w.Status = draw.StatusConfirmed
	w.ConfirmedAt = clock.t
	w.ConfirmedBy = "op"
	require.NoError(t, s.ConfirmPayment(ctx, w, draw.HistoryRecord{
		ID: "h-paid", DrawType: "daily", Period: w.Period, Event: draw.EventConfirmed,
		WinnerID: w.ID, ParticipantID: "p1", AccountRef: "acct-p1", OperatorID: "op", At: clock.t,
	}))
	eligible, err = s.EligibleParticipants(ctx, "daily", "2026-03-18")
	require.NoError(t, err)
	require.Len(t, eligible, 2)
}

func TestRecordSelectionIsAllOrNothing(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	p := draw.Participant{ID: "p1", AccountRef: "acct-p1"}

	w, h := selection("w1", p, "2026-03-10", clock.t)
	require.NoError(t, s.RecordSelection(ctx, w, h))

	// second selection for the same period is rejected and leaves nothing behind
	w2, h2 := selection("w2", draw.Participant{ID: "p2", AccountRef: "acct-p2"}, "2026-03-10", clock.t)
	err := s.RecordSelection(ctx, w2, h2)
	require.ErrorIs(t, err, storage.ErrDuplicateSelection)

	pending, err := s.PendingForPeriod(ctx, "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "w1", pending[0].ID)

	// history write fails (duplicate id) -> the pending row must roll back
	w3, _ := selection("w3", p, "2026-03-11", clock.t)
	err = s.RecordSelection(ctx, w3, h)
	require.Error(t, err)
	pending, err = s.PendingForPeriod(ctx, "daily", "2026-03-11")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestConfirmPaymentMovesRow(t *testing.T) {
	s, _, clock := openStore(t)
	ctx := context.Background()
	p := draw.Participant{ID: "p1", AccountRef: "acct-p1"}

	w, h := selection("w1", p, "2026-03-10", clock.t)
	require.NoError(t, s.RecordSelection(ctx, w, h))

	found, ok, err := s.FindPending(ctx, "daily", "acct-p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "w1", found.ID)

	found.Status = draw.StatusConfirmed
	found.ConfirmedAt = clock.t.Add(time.Hour)
	found.ConfirmedBy = "op-7"
	require.NoError(t, s.ConfirmPayment(ctx, found, draw.HistoryRecord{
		ID: "h-c1", DrawType: "daily", Period: "2026-03-10", Event: draw.EventConfirmed,
		WinnerID: "w1", ParticipantID: "p1", AccountRef: "acct-p1", PrizeAmount: 1000,
		OperatorID: "op-7", At: found.ConfirmedAt,
	}))

	_, ok, err = s.FindPending(ctx, "daily", "p1")
	require.NoError(t, err)
	require.False(t, ok)

	confirmed, ok, err := s.FindConfirmed(ctx, "daily", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, draw.StatusConfirmed, confirmed.Status)
	require.Equal(t, "op-7", confirmed.ConfirmedBy)

	hist, err := s.ReadHistory(ctx, "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, draw.EventSelected, hist[0].Event)
	require.Equal(t, draw.EventConfirmed, hist[1].Event)

	// a second confirm of the same row fails without touching anything
	err = s.ConfirmPayment(ctx, found, draw.HistoryRecord{ID: "h-c2", DrawType: "daily", Period: "2026-03-10", Event: "other"})
	require.Error(t, err)
	hist, err = s.ReadHistory(ctx, "daily", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestBackupUnderLock(t *testing.T) {
	s, _, _ := openStore(t)
	reg := lockreg.NewRegistry(lockreg.Config{})
	ctx := context.Background()

	require.NoError(t, s.Enroll(ctx, "daily", draw.Participant{ID: "p1", AccountRef: "acct-p1"}))

	dir := filepath.Join(t.TempDir(), "backups")
	path, err := s.Backup(ctx, reg, dir, time.Second)
	require.NoError(t, err)
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, st.Size(), int64(0))
	require.Zero(t, reg.Diagnostics().ActiveHolders)

	// backup from inside a backup-holding scope fails fast
	err = reg.Do(ctx, []lockreg.Resource{lockreg.Backup}, time.Second, func(ctx context.Context) error {
		_, err := s.Backup(ctx, reg, dir, time.Second)
		return err
	})
	require.True(t, errors.Is(err, lockreg.ErrNotReentrant), "got %v", err)
}
