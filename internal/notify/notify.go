// Package notify announces selected and paid winners.
package notify

import (
	"context"
	"errors"

	"prizedraw/internal/draw"
	"prizedraw/internal/obs"
)

// Announcement is the payload every notifier emits.
type Announcement struct {
	Kind       string             `json:"kind"` // winner_selected | payment_confirmed
	Winner     draw.PendingWinner `json:"winner"`
	OperatorID string             `json:"operator_id,omitempty"`
}

const (
	KindWinnerSelected   = "winner_selected"
	KindPaymentConfirmed = "payment_confirmed"
)

// LogNotifier writes announcements to the structured log.
type LogNotifier struct {
	logger *obs.Logger
}

func NewLogNotifier(logger *obs.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyWinnerSelected(_ context.Context, w draw.PendingWinner) error {
	n.logger.Info(map[string]interface{}{
		"op":             "announce",
		"kind":           KindWinnerSelected,
		"draw_type":      string(w.DrawType),
		"period":         w.Period,
		"winner_id":      w.ID,
		"participant_id": w.ParticipantID,
		"prize_amount":   w.PrizeAmount,
		"currency":       w.Currency,
	})
	return nil
}

func (n *LogNotifier) NotifyPaymentConfirmed(_ context.Context, w draw.PendingWinner, operatorID string) error {
	n.logger.Info(map[string]interface{}{
		"op":             "announce",
		"kind":           KindPaymentConfirmed,
		"draw_type":      string(w.DrawType),
		"period":         w.Period,
		"winner_id":      w.ID,
		"participant_id": w.ParticipantID,
		"operator":       operatorID,
	})
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []draw.Notifier

func (m Multi) NotifyWinnerSelected(ctx context.Context, w draw.PendingWinner) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyWinnerSelected(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyPaymentConfirmed(ctx context.Context, w draw.PendingWinner, operatorID string) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyPaymentConfirmed(ctx, w, operatorID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
