package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_ns INTEGER NOT NULL
);
`); err != nil {
		return err
	}

	const latest = 2

	cur, err := currentVersion(ctx, d.DB)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latest; v++ {
		if err := apply(ctx, d.DB, v); err != nil {
			return err
		}
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func apply(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	switch version {
	case 1:
		if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS participants (
  draw_type TEXT NOT NULL,
  participant_id TEXT NOT NULL,
  account_ref TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  active INTEGER NOT NULL DEFAULT 1,
  enrolled_at_ns INTEGER NOT NULL,
  PRIMARY KEY (draw_type, participant_id)
);

CREATE TABLE IF NOT EXISTS pending_winners (
  id TEXT PRIMARY KEY,
  draw_type TEXT NOT NULL,
  period TEXT NOT NULL,
  participant_id TEXT NOT NULL,
  account_ref TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  prize_amount INTEGER NOT NULL,
  currency TEXT NOT NULL,
  selected_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS winners (
  id TEXT PRIMARY KEY,
  draw_type TEXT NOT NULL,
  period TEXT NOT NULL,
  participant_id TEXT NOT NULL,
  account_ref TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  prize_amount INTEGER NOT NULL,
  currency TEXT NOT NULL,
  selected_at_ns INTEGER NOT NULL,
  confirmed_at_ns INTEGER NOT NULL,
  confirmed_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history (
  id TEXT PRIMARY KEY,
  draw_type TEXT NOT NULL,
  period TEXT NOT NULL,
  event TEXT NOT NULL,
  winner_id TEXT NOT NULL,
  participant_id TEXT NOT NULL,
  account_ref TEXT NOT NULL,
  prize_amount INTEGER NOT NULL,
  operator_id TEXT NOT NULL DEFAULT '',
  at_ns INTEGER NOT NULL
);
`); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	case 2:
		// one selection per (draw_type, period) even if a caller skips the locks
		if _, err := tx.ExecContext(ctx, `
CREATE UNIQUE INDEX IF NOT EXISTS ux_pending_period ON pending_winners(draw_type, period);
CREATE UNIQUE INDEX IF NOT EXISTS ux_winners_period ON winners(draw_type, period);
CREATE UNIQUE INDEX IF NOT EXISTS ux_history_event ON history(draw_type, period, event);
CREATE INDEX IF NOT EXISTS idx_pending_participant ON pending_winners(draw_type, participant_id);
CREATE INDEX IF NOT EXISTS idx_winners_participant ON winners(draw_type, participant_id);
`); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at_ns) VALUES(?, strftime('%s','now')*1000000000);`, version); err != nil {
		return err
	}
	return tx.Commit()
}
