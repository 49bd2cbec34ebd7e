package draw

import (
	"errors"
	"time"
)

type DrawType string

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

type Event string

const (
	EventSelected  Event = "selected"
	EventConfirmed Event = "confirmed"
)

var (
	ErrUnknownDrawType = errors.New("unknown draw type")
	ErrInvalidCadence  = errors.New("invalid cadence")
)

type Participant struct {
	ID          string
	AccountRef  string
	DisplayName string
}

// PendingWinner is one selected winner. Status moves pending -> confirmed
// exactly once.
type PendingWinner struct {
	ID            string    `json:"id"`
	DrawType      DrawType  `json:"draw_type"`
	Period        string    `json:"period"`
	ParticipantID string    `json:"participant_id"`
	AccountRef    string    `json:"account_ref"`
	DisplayName   string    `json:"display_name,omitempty"`
	PrizeAmount   int64     `json:"prize_amount"` // minor units
	Currency      string    `json:"currency"`
	SelectedAt    time.Time `json:"selected_at"`
	Status        Status    `json:"status"`
	ConfirmedAt   time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy   string    `json:"confirmed_by,omitempty"`
}

// Matches reports whether id names this winner by row id, participant id or
// account reference.
func (w PendingWinner) Matches(id string) bool {
	return id != "" && (w.ID == id || w.ParticipantID == id || w.AccountRef == id)
}

type HistoryRecord struct {
	ID            string
	DrawType      DrawType
	Period        string
	Event         Event
	WinnerID      string
	ParticipantID string
	AccountRef    string
	PrizeAmount   int64
	OperatorID    string
	At            time.Time
}

type Outcome string

const (
	WinnerSelected         Outcome = "WINNER_SELECTED"
	NoEligibleParticipants Outcome = "NO_ELIGIBLE_PARTICIPANTS"
	AlreadyRun             Outcome = "ALREADY_RUN"
	TimedOut               Outcome = "TIMED_OUT"
	Failed                 Outcome = "FAILED"
)

type DrawResult struct {
	Outcome  Outcome        `json:"outcome"`
	DrawType DrawType       `json:"draw_type"`
	Period   string         `json:"period"`
	Winner   *PendingWinner `json:"winner,omitempty"`
}
