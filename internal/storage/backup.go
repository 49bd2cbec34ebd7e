package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"prizedraw/internal/lockreg"
)

// backupLocks freezes every table the snapshot covers.
var backupLocks = []lockreg.Resource{
	lockreg.Backup,
	lockreg.History,
	lockreg.Participants,
	lockreg.PendingWinners,
	lockreg.Winners,
}

// Backup writes a consistent copy of the database into dir and returns its
// path. The backup lock is not reentrant, so calling Backup from code that
// already holds it fails fast with lockreg.ErrNotReentrant.
func (s *Store) Backup(ctx context.Context, reg *lockreg.Registry, dir string, timeout time.Duration) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}
	name := fmt.Sprintf("prizedraw-%s.db", s.clock.Now().UTC().Format("20060102T150405.000000000"))
	dst := filepath.Join(dir, name)

	err := reg.Do(ctx, backupLocks, timeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `VACUUM INTO ?;`, dst)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	return dst, nil
}
