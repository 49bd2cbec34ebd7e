// Package payment confirms manual prize transfers for pending winners.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prizedraw/internal/draw"
	"prizedraw/internal/lockreg"
	"prizedraw/internal/obs"
)

var ErrInvalidRequest = errors.New("winner_id and operator_id required")

type Outcome string

const (
	Success          Outcome = "SUCCESS"
	NotFound         Outcome = "NOT_FOUND"
	AlreadyConfirmed Outcome = "ALREADY_CONFIRMED"
	TimedOut         Outcome = "TIMED_OUT"
	Failed           Outcome = "FAILED"
)

type ConfirmResult struct {
	Outcome Outcome             `json:"outcome"`
	Winner  *draw.PendingWinner `json:"winner,omitempty"`
}

var confirmLocks = []lockreg.Resource{
	lockreg.PendingWinners,
	lockreg.Winners,
	lockreg.History,
}

type Config struct {
	Registry    *lockreg.Registry
	Ledger      draw.Ledger
	Notifier    draw.Notifier // optional
	Clock       draw.Clock
	LockTimeout time.Duration
	Logger      *obs.Logger
	Metrics     *obs.Metrics
}

type Service struct {
	reg         *lockreg.Registry
	ledger      draw.Ledger
	notifier    draw.Notifier
	clock       draw.Clock
	lockTimeout time.Duration
	logger      *obs.Logger
	metrics     *obs.Metrics
}

func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = draw.SystemClock()
	}
	return &Service{
		reg:         cfg.Registry,
		ledger:      cfg.Ledger,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		lockTimeout: cfg.LockTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Confirm moves the pending winner identified by winnerID to confirmed.
// Repeating a successful confirmation returns AlreadyConfirmed and does not
// notify again.
func (s *Service) Confirm(ctx context.Context, winnerID, operatorID string, drawType draw.DrawType) (res ConfirmResult, err error) {
	if winnerID == "" || operatorID == "" {
		return ConfirmResult{Outcome: NotFound}, ErrInvalidRequest
	}
	start := time.Now()

	defer func() {
		if s.metrics != nil {
			s.metrics.ConfirmTotal.WithLabelValues(string(drawType), string(res.Outcome)).Inc()
			s.metrics.OpLatencyMS.WithLabelValues("confirm").Observe(float64(time.Since(start).Milliseconds()))
		}
		fields := map[string]interface{}{
			"op":         "confirm_payment",
			"draw_type":  string(drawType),
			"winner":     winnerID,
			"operator":   operatorID,
			"outcome":    string(res.Outcome),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			fields["resources"] = []string{"history", "pending_winners", "winners"}
			s.logger.Error(fields)
		} else {
			s.logger.Info(fields)
		}
	}()

	ctx, _ = lockreg.EnsureOwner(ctx)

	var confirmed *draw.PendingWinner
	outcome := Failed
	err = s.reg.Do(ctx, confirmLocks, s.lockTimeout, func(ctx context.Context) (ferr error) {
		defer func() {
			if p := recover(); p != nil {
				ferr = fmt.Errorf("panic in confirm: %v", p)
			}
		}()

		w, ok, err := s.ledger.FindPending(ctx, drawType, winnerID)
		if err != nil {
			return fmt.Errorf("find pending: %w", err)
		}
		if !ok {
			prev, done, err := s.ledger.FindConfirmed(ctx, drawType, winnerID)
			if err != nil {
				return fmt.Errorf("find confirmed: %w", err)
			}
			if done {
				outcome = AlreadyConfirmed
				confirmed = &prev
			} else {
				outcome = NotFound
			}
			return nil
		}

		now := s.clock.Now()
		w.Status = draw.StatusConfirmed
		w.ConfirmedAt = now
		w.ConfirmedBy = operatorID
		h := draw.HistoryRecord{
			ID:            uuid.NewString(),
			DrawType:      w.DrawType,
			Period:        w.Period,
			Event:         draw.EventConfirmed,
			WinnerID:      w.ID,
			ParticipantID: w.ParticipantID,
			AccountRef:    w.AccountRef,
			PrizeAmount:   w.PrizeAmount,
			OperatorID:    operatorID,
			At:            now,
		}
		if err := s.ledger.ConfirmPayment(ctx, w, h); err != nil {
			return fmt.Errorf("confirm payment: %w", err)
		}
		confirmed = &w
		outcome = Success
		return nil
	})

	if err != nil {
		if errors.Is(err, lockreg.ErrTimedOut) {
			res.Outcome = TimedOut
		} else {
			res.Outcome = Failed
		}
		return res, fmt.Errorf("confirm %s/%s: %w", drawType, winnerID, err)
	}

	res.Outcome = outcome
	res.Winner = confirmed
	if outcome == Success && s.notifier != nil {
		if nerr := s.notifier.NotifyPaymentConfirmed(ctx, *confirmed, operatorID); nerr != nil {
			s.logger.Warn(map[string]interface{}{
				"op":        "notify_payment",
				"draw_type": string(drawType),
				"winner_id": confirmed.ID,
				"error":     nerr.Error(),
			})
		}
	}
	return res, nil
}
