package drawclient

import "time"

// Winner mirrors the server's pending/confirmed winner row.
type Winner struct {
	ID            string    `json:"id"`
	DrawType      string    `json:"draw_type"`
	Period        string    `json:"period"`
	ParticipantID string    `json:"participant_id"`
	AccountRef    string    `json:"account_ref"`
	DisplayName   string    `json:"display_name,omitempty"`
	PrizeAmount   int64     `json:"prize_amount"`
	Currency      string    `json:"currency"`
	SelectedAt    time.Time `json:"selected_at"`
	Status        string    `json:"status"`
	ConfirmedAt   time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy   string    `json:"confirmed_by,omitempty"`
}

// DrawResult outcomes: WINNER_SELECTED | NO_ELIGIBLE_PARTICIPANTS | ALREADY_RUN.
type DrawResult struct {
	Outcome   string  `json:"outcome"`
	DrawType  string  `json:"draw_type"`
	Period    string  `json:"period"`
	Winner    *Winner `json:"winner,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// ConfirmResult outcomes: SUCCESS | ALREADY_CONFIRMED | NOT_FOUND.
type ConfirmResult struct {
	Outcome   string  `json:"outcome"`
	Winner    *Winner `json:"winner,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

type LockStatus struct {
	Resource   string        `json:"resource"`
	Reentrant  bool          `json:"reentrant"`
	Held       bool          `json:"held"`
	Owner      string        `json:"owner,omitempty"`
	Depth      int           `json:"depth,omitempty"`
	AcquiredAt time.Time     `json:"acquired_at,omitempty"`
	HeldFor    time.Duration `json:"held_for_ns,omitempty"`
}

type Diagnostics struct {
	Locks            []LockStatus  `json:"locks"`
	ActiveHolders    int           `json:"active_holders"`
	Acquisitions     int64         `json:"acquisitions"`
	Timeouts         int64         `json:"timeouts"`
	TimeoutRate      float64       `json:"timeout_rate"`
	Contentions      int64         `json:"contentions"`
	ForcedReleases   int64         `json:"forced_releases"`
	AvgHold          time.Duration `json:"avg_hold_ns"`
	ActiveOperations []string      `json:"active_operations"`
}

// RetryOptions controls RunDrawWithRetry / ConfirmWithRetry backoff.
type RetryOptions struct {
	MaxRetries   int           // bounded retry; 0 => default 20
	MaxTotalWait time.Duration // optional global cap; 0 => no cap
	MinRetry     time.Duration // default 50ms
	MaxRetry     time.Duration // default 2s
	JitterFrac   float64       // 0 => no jitter; 0.2 = ±20%
}

// WatchOptions controls WatchLocks polling.
type WatchOptions struct {
	Interval time.Duration // default 1s
	// HoldWarn: only emit snapshots with a lock held at least this long. 0 => every snapshot.
	HoldWarn time.Duration
}
