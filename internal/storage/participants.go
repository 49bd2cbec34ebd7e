package storage

import (
	"context"
	"fmt"
	"time"

	"prizedraw/internal/draw"
)

// Enroll adds or re-activates a participant for drawType.
func (s *Store) Enroll(ctx context.Context, drawType draw.DrawType, p draw.Participant) error {
	if _, err := s.catalog.Lookup(drawType); err != nil {
		return err
	}
	if p.ID == "" || p.AccountRef == "" {
		return fmt.Errorf("participant id and account ref required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO participants(draw_type, participant_id, account_ref, display_name, active, enrolled_at_ns)
VALUES(?, ?, ?, ?, 1, ?)
ON CONFLICT(draw_type, participant_id) DO UPDATE SET
  account_ref = excluded.account_ref,
  display_name = excluded.display_name,
  active = 1;
`, string(drawType), p.ID, p.AccountRef, p.DisplayName, s.clock.Now().UnixNano())
	return err
}

// Withdraw deactivates a participant. Returns false if it was not enrolled.
func (s *Store) Withdraw(ctx context.Context, drawType draw.DrawType, participantID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE participants SET active = 0
WHERE draw_type = ? AND participant_id = ? AND active = 1;
`, string(drawType), participantID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EligibleParticipants returns active participants of drawType who have no
// unpaid win of that draw type and were not paid within its cooldown window.
// An outstanding pending row excludes its participant however old it is, so
// an account never holds two pending prizes of one draw type.
func (s *Store) EligibleParticipants(ctx context.Context, drawType draw.DrawType, period string) ([]draw.Participant, error) {
	spec, err := s.catalog.Lookup(drawType)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock.Now().Add(-time.Duration(spec.CooldownDays) * 24 * time.Hour).UnixNano()
	if spec.CooldownDays <= 0 {
		cutoff = s.clock.Now().Add(time.Hour).UnixNano()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT p.participant_id, p.account_ref, p.display_name
FROM participants p
WHERE p.draw_type = ?1
  AND p.active = 1
  AND p.participant_id NOT IN (
    SELECT participant_id FROM pending_winners WHERE draw_type = ?1
    UNION
    SELECT participant_id FROM winners WHERE draw_type = ?1 AND selected_at_ns >= ?2
  )
ORDER BY p.participant_id;
`, string(drawType), cutoff)
	if err != nil {
		return nil, fmt.Errorf("eligible participants for %s/%s: %w", drawType, period, err)
	}
	defer rows.Close()

	var out []draw.Participant
	for rows.Next() {
		var p draw.Participant
		if err := rows.Scan(&p.ID, &p.AccountRef, &p.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
