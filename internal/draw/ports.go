package draw

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// ParticipantSource returns the participants eligible for a draw period,
// cooldown exclusions already applied.
type ParticipantSource interface {
	EligibleParticipants(ctx context.Context, drawType DrawType, period string) ([]Participant, error)
}

// Ledger is the persistence behind draws and confirmations. Callers hold the
// matching resource locks; RecordSelection and ConfirmPayment must commit both
// of their writes or neither.
type Ledger interface {
	PendingForPeriod(ctx context.Context, drawType DrawType, period string) ([]PendingWinner, error)
	ReadHistory(ctx context.Context, drawType DrawType, period string) ([]HistoryRecord, error)
	RecordSelection(ctx context.Context, w PendingWinner, h HistoryRecord) error

	ListPending(ctx context.Context, drawType DrawType) ([]PendingWinner, error)
	FindPending(ctx context.Context, drawType DrawType, winnerID string) (PendingWinner, bool, error)
	FindConfirmed(ctx context.Context, drawType DrawType, winnerID string) (PendingWinner, bool, error)
	ConfirmPayment(ctx context.Context, w PendingWinner, h HistoryRecord) error
}

// Notifier announces state changes. It is only called after locks are
// released.
type Notifier interface {
	NotifyWinnerSelected(ctx context.Context, w PendingWinner) error
	NotifyPaymentConfirmed(ctx context.Context, w PendingWinner, operatorID string) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

// Rand picks an index in [0, n).
type Rand interface {
	Intn(n int) int
}

type cryptoRand struct{}

func (cryptoRand) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("draw: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}

// CryptoRand is the default uniform source.
func CryptoRand() Rand { return cryptoRand{} }
