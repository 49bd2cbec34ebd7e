package draw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"prizedraw/internal/lockreg"
	"prizedraw/internal/obs"
	"prizedraw/internal/optrack"
)

// drawLocks is everything a draw reads or writes.
var drawLocks = []lockreg.Resource{
	lockreg.Participants,
	lockreg.Winners,
	lockreg.PendingWinners,
	lockreg.History,
}

type Config struct {
	Registry     *lockreg.Registry
	Tracker      *optrack.Tracker
	Catalog      Catalog
	Participants ParticipantSource
	Ledger       Ledger
	Notifier     Notifier // optional
	Clock        Clock
	Rand         Rand
	Location     *time.Location
	LockTimeout  time.Duration // 0 = registry default
	StaleAfter   time.Duration // 0 = optrack.DefaultStaleAfter
	Logger       *obs.Logger
	Metrics      *obs.Metrics
}

type Engine struct {
	reg          *lockreg.Registry
	tracker      *optrack.Tracker
	catalog      Catalog
	participants ParticipantSource
	ledger       Ledger
	notifier     Notifier
	clock        Clock
	rand         Rand
	loc          *time.Location
	lockTimeout  time.Duration
	staleAfter   time.Duration
	logger       *obs.Logger
	metrics      *obs.Metrics
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Rand == nil {
		cfg.Rand = CryptoRand()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	return &Engine{
		reg:          cfg.Registry,
		tracker:      cfg.Tracker,
		catalog:      cfg.Catalog,
		participants: cfg.Participants,
		ledger:       cfg.Ledger,
		notifier:     cfg.Notifier,
		clock:        cfg.Clock,
		rand:         cfg.Rand,
		loc:          cfg.Location,
		lockTimeout:  cfg.LockTimeout,
		staleAfter:   cfg.StaleAfter,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// CurrentPeriod returns the period a draw of this type would run for now.
func (e *Engine) CurrentPeriod(drawType DrawType) (string, error) {
	spec, err := e.catalog.Lookup(drawType)
	if err != nil {
		return "", err
	}
	return Period(spec.Cadence, e.clock.Now(), e.loc)
}

// RunDraw selects at most one winner for the current period of drawType.
// Duplicate triggers, whether concurrent or repeated, return AlreadyRun.
// A TimedOut or Failed outcome is returned together with the cause.
func (e *Engine) RunDraw(ctx context.Context, drawType DrawType) (res DrawResult, err error) {
	start := time.Now()
	res = DrawResult{DrawType: drawType}

	defer func() {
		e.observe(drawType, res.Outcome, start)
		fields := map[string]interface{}{
			"op":         "run_draw",
			"draw_type":  string(drawType),
			"period":     res.Period,
			"outcome":    string(res.Outcome),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if res.Winner != nil {
			fields["winner_id"] = res.Winner.ID
			fields["participant_id"] = res.Winner.ParticipantID
		}
		if err != nil {
			fields["error"] = err.Error()
			fields["resources"] = drawLockNames()
			e.logger.Error(fields)
		} else {
			e.logger.Info(fields)
		}
	}()

	spec, err := e.catalog.Lookup(drawType)
	if err != nil {
		res.Outcome = Failed
		return res, err
	}
	now := e.clock.Now()
	period, err := Period(spec.Cadence, now, e.loc)
	if err != nil {
		res.Outcome = Failed
		return res, err
	}
	res.Period = period

	key := optrack.OperationKey("draw", string(drawType), period)
	tok, err := e.tracker.Begin(key, e.staleAfter)
	if err != nil {
		if errors.Is(err, optrack.ErrAlreadyActive) {
			res.Outcome = AlreadyRun
			return res, nil
		}
		res.Outcome = Failed
		return res, err
	}
	defer tok.Release()

	ctx, _ = lockreg.EnsureOwner(ctx)

	var winner *PendingWinner
	outcome := Failed
	err = e.reg.Do(ctx, drawLocks, e.lockTimeout, func(ctx context.Context) (ferr error) {
		defer func() {
			if p := recover(); p != nil {
				ferr = fmt.Errorf("panic in draw: %v", p)
			}
		}()

		done, err := e.alreadyDrawn(ctx, drawType, period)
		if err != nil {
			return err
		}
		if done {
			outcome = AlreadyRun
			return nil
		}

		eligible, err := e.participants.EligibleParticipants(ctx, drawType, period)
		if err != nil {
			return fmt.Errorf("eligible participants: %w", err)
		}
		if len(eligible) == 0 {
			outcome = NoEligibleParticipants
			return nil
		}

		pick := eligible[e.rand.Intn(len(eligible))]
		selectedAt := e.clock.Now()
		w := PendingWinner{
			ID:            uuid.NewString(),
			DrawType:      drawType,
			Period:        period,
			ParticipantID: pick.ID,
			AccountRef:    pick.AccountRef,
			DisplayName:   pick.DisplayName,
			PrizeAmount:   spec.PrizeAmount,
			Currency:      spec.Currency,
			SelectedAt:    selectedAt,
			Status:        StatusPending,
		}
		h := HistoryRecord{
			ID:            uuid.NewString(),
			DrawType:      drawType,
			Period:        period,
			Event:         EventSelected,
			WinnerID:      w.ID,
			ParticipantID: w.ParticipantID,
			AccountRef:    w.AccountRef,
			PrizeAmount:   w.PrizeAmount,
			At:            selectedAt,
		}
		if err := e.ledger.RecordSelection(ctx, w, h); err != nil {
			return fmt.Errorf("record selection: %w", err)
		}
		winner = &w
		outcome = WinnerSelected
		return nil
	})
	tok.Release()

	if err != nil {
		if errors.Is(err, lockreg.ErrTimedOut) {
			res.Outcome = TimedOut
		} else {
			res.Outcome = Failed
		}
		return res, fmt.Errorf("run draw %s/%s: %w", drawType, period, err)
	}

	res.Outcome = outcome
	res.Winner = winner
	if winner != nil && e.notifier != nil {
		if nerr := e.notifier.NotifyWinnerSelected(ctx, *winner); nerr != nil {
			e.logger.Warn(map[string]interface{}{
				"op":        "notify_winner",
				"draw_type": string(drawType),
				"winner_id": winner.ID,
				"error":     nerr.Error(),
			})
		}
	}
	return res, nil
}

// alreadyDrawn reports whether the period has a pending winner or a
// recorded selection.
func (e *Engine) alreadyDrawn(ctx context.Context, drawType DrawType, period string) (bool, error) {
	pending, err := e.ledger.PendingForPeriod(ctx, drawType, period)
	if err != nil {
		return false, fmt.Errorf("pending for period: %w", err)
	}
	if len(pending) > 0 {
		return true, nil
	}
	hist, err := e.ledger.ReadHistory(ctx, drawType, period)
	if err != nil {
		return false, fmt.Errorf("read history: %w", err)
	}
	for _, h := range hist {
		if h.Event == EventSelected {
			return true, nil
		}
	}
	return false, nil
}

// PendingWinners lists winners of drawType still awaiting payment.
func (e *Engine) PendingWinners(ctx context.Context, drawType DrawType) ([]PendingWinner, error) {
	if _, err := e.catalog.Lookup(drawType); err != nil {
		return nil, err
	}
	var out []PendingWinner
	err := e.reg.Do(ctx, []lockreg.Resource{lockreg.PendingWinners}, e.lockTimeout, func(ctx context.Context) error {
		var err error
		out, err = e.ledger.ListPending(ctx, drawType)
		return err
	})
	return out, err
}

func (e *Engine) Catalog() Catalog { return e.catalog }

func (e *Engine) observe(drawType DrawType, outcome Outcome, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.DrawTotal.WithLabelValues(string(drawType), string(outcome)).Inc()
	e.metrics.OpLatencyMS.WithLabelValues("run_draw").Observe(float64(time.Since(start).Milliseconds()))
}

func drawLockNames() []string {
	out := make([]string, len(drawLocks))
	for i, r := range drawLocks {
		out[i] = string(r)
	}
	return out
}
