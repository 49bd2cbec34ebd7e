package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prizedraw/internal/draw"
)

// ErrDuplicateSelection means the period already has a selected winner.
var ErrDuplicateSelection = errors.New("winner already recorded for period")

// Store is the sqlite-backed draw.Ledger and draw.ParticipantSource.
type Store struct {
	db      *DB
	catalog draw.Catalog
	clock   draw.Clock
}

func NewStore(db *DB, catalog draw.Catalog, clock draw.Clock) *Store {
	if catalog == nil {
		catalog = draw.DefaultCatalog()
	}
	if clock == nil {
		clock = draw.SystemClock()
	}
	return &Store{db: db, catalog: catalog, clock: clock}
}

var (
	_ draw.Ledger            = (*Store)(nil)
	_ draw.ParticipantSource = (*Store)(nil)
)

const pendingCols = `id, draw_type, period, participant_id, account_ref, display_name, prize_amount, currency, selected_at_ns`

const winnerCols = pendingCols + `, confirmed_at_ns, confirmed_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(r rowScanner) (draw.PendingWinner, error) {
	var (
		w          draw.PendingWinner
		dt         string
		selectedNs int64
	)
	if err := r.Scan(&w.ID, &dt, &w.Period, &w.ParticipantID, &w.AccountRef, &w.DisplayName,
		&w.PrizeAmount, &w.Currency, &selectedNs); err != nil {
		return w, err
	}
	w.DrawType = draw.DrawType(dt)
	w.SelectedAt = time.Unix(0, selectedNs).UTC()
	w.Status = draw.StatusPending
	return w, nil
}

func scanWinner(r rowScanner) (draw.PendingWinner, error) {
	var (
		w           draw.PendingWinner
		dt          string
		selectedNs  int64
		confirmedNs int64
	)
	if err := r.Scan(&w.ID, &dt, &w.Period, &w.ParticipantID, &w.AccountRef, &w.DisplayName,
		&w.PrizeAmount, &w.Currency, &selectedNs, &confirmedNs, &w.ConfirmedBy); err != nil {
		return w, err
	}
	w.DrawType = draw.DrawType(dt)
	w.SelectedAt = time.Unix(0, selectedNs).UTC()
	w.ConfirmedAt = time.Unix(0, confirmedNs).UTC()
	w.Status = draw.StatusConfirmed
	return w, nil
}

func (s *Store) queryPending(ctx context.Context, query string, args ...any) ([]draw.PendingWinner, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.PendingWinner
	for rows.Next() {
		w, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) PendingForPeriod(ctx context.Context, drawType draw.DrawType, period string) ([]draw.PendingWinner, error) {
	return s.queryPending(ctx, `
SELECT `+pendingCols+` FROM pending_winners
WHERE draw_type = ? AND period = ?
ORDER BY selected_at_ns;
`, string(drawType), period)
}

func (s *Store) ListPending(ctx context.Context, drawType draw.DrawType) ([]draw.PendingWinner, error) {
	return s.queryPending(ctx, `
SELECT `+pendingCols+` FROM pending_winners
WHERE draw_type = ?
ORDER BY selected_at_ns;
`, string(drawType))
}

func (s *Store) ReadHistory(ctx context.Context, drawType draw.DrawType, period string) ([]draw.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, draw_type, period, event, winner_id, participant_id, account_ref, prize_amount, operator_id, at_ns
FROM history
WHERE draw_type = ? AND period = ?
ORDER BY at_ns;
`, string(drawType), period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []draw.HistoryRecord
	for rows.Next() {
		var (
			h      draw.HistoryRecord
			dt, ev string
			atNs   int64
		)
		if err := rows.Scan(&h.ID, &dt, &h.Period, &ev, &h.WinnerID, &h.ParticipantID, &h.AccountRef,
			&h.PrizeAmount, &h.OperatorID, &atNs); err != nil {
			return nil, err
		}
		h.DrawType = draw.DrawType(dt)
		h.Event = draw.Event(ev)
		h.At = time.Unix(0, atNs).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, h draw.HistoryRecord) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO history(id, draw_type, period, event, winner_id, participant_id, account_ref, prize_amount, operator_id, at_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, h.ID, string(h.DrawType), h.Period, string(h.Event), h.WinnerID, h.ParticipantID, h.AccountRef,
		h.PrizeAmount, h.OperatorID, h.At.UnixNano())
	return err
}

// RecordSelection writes the pending row and its history entry in one
// transaction.
func (s *Store) RecordSelection(ctx context.Context, w draw.PendingWinner, h draw.HistoryRecord) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pending_winners(`+pendingCols+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, w.ID, string(w.DrawType), w.Period, w.ParticipantID, w.AccountRef, w.DisplayName,
			w.PrizeAmount, w.Currency, w.SelectedAt.UnixNano()); err != nil {
			return err
		}
		return insertHistory(ctx, tx, h)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateSelection, w.DrawType, w.Period)
	}
	return err
}

// FindPending returns the oldest pending winner of drawType matching
// winnerID by row id, participant id or account reference.
func (s *Store) FindPending(ctx context.Context, drawType draw.DrawType, winnerID string) (draw.PendingWinner, bool, error) {
	w, err := scanPending(s.db.QueryRowContext(ctx, `
SELECT `+pendingCols+` FROM pending_winners
WHERE draw_type = ? AND (id = ? OR participant_id = ? OR account_ref = ?)
ORDER BY selected_at_ns
LIMIT 1;
`, string(drawType), winnerID, winnerID, winnerID))
	if errors.Is(err, sql.ErrNoRows) {
		return draw.PendingWinner{}, false, nil
	}
	if err != nil {
		return draw.PendingWinner{}, false, err
	}
	return w, true, nil
}

// FindConfirmed returns the most recently confirmed winner of drawType
// matching winnerID.
func (s *Store) FindConfirmed(ctx context.Context, drawType draw.DrawType, winnerID string) (draw.PendingWinner, bool, error) {
	w, err := scanWinner(s.db.QueryRowContext(ctx, `
SELECT `+winnerCols+` FROM winners
WHERE draw_type = ? AND (id = ? OR participant_id = ? OR account_ref = ?)
ORDER BY confirmed_at_ns DESC
LIMIT 1;
`, string(drawType), winnerID, winnerID, winnerID))
	if errors.Is(err, sql.ErrNoRows) {
		return draw.PendingWinner{}, false, nil
	}
	if err != nil {
		return draw.PendingWinner{}, false, err
	}
	return w, true, nil
}

// ConfirmPayment archives w into winners as confirmed, removes its pending
// row and appends h, all in one transaction.
func (s *Store) ConfirmPayment(ctx context.Context, w draw.PendingWinner, h draw.HistoryRecord) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pending_winners WHERE id = ?;`, w.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("pending winner %s vanished", w.ID)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO winners(`+winnerCols+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, w.ID, string(w.DrawType), w.Period, w.ParticipantID, w.AccountRef, w.DisplayName,
			w.PrizeAmount, w.Currency, w.SelectedAt.UnixNano(), w.ConfirmedAt.UnixNano(), w.ConfirmedBy); err != nil {
			return err
		}
		return insertHistory(ctx, tx, h)
	})
}
