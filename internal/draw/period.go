package draw

import (
	"fmt"
	"time"
)

type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

func (c Cadence) Valid() bool {
	switch c {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Period names the bucket t falls into: 2006-01-02 for daily, ISO week
// 2006-W01 for weekly, 2006-01 for monthly. loc nil means UTC.
func Period(c Cadence, t time.Time, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	switch c {
	case Daily:
		return t.Format("2006-01-02"), nil
	case Weekly:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w), nil
	case Monthly:
		return t.Format("2006-01"), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCadence, c)
}

// DrawSpec describes one configured draw type.
type DrawSpec struct {
	Name         DrawType `yaml:"name" json:"name"`
	Cadence      Cadence  `yaml:"cadence" json:"cadence"`
	PrizeAmount  int64    `yaml:"prize_amount" json:"prize_amount"`
	Currency     string   `yaml:"currency" json:"currency"`
	CooldownDays int      `yaml:"cooldown_days" json:"cooldown_days"`
}

type Catalog map[DrawType]DrawSpec

func (c Catalog) Lookup(t DrawType) (DrawSpec, error) {
	spec, ok := c[t]
	if !ok {
		return DrawSpec{}, fmt.Errorf("%w: %q", ErrUnknownDrawType, t)
	}
	return spec, nil
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		"daily":   {Name: "daily", Cadence: Daily, PrizeAmount: 10_00, Currency: "USD", CooldownDays: 7},
		"weekly":  {Name: "weekly", Cadence: Weekly, PrizeAmount: 100_00, Currency: "USD", CooldownDays: 28},
		"monthly": {Name: "monthly", Cadence: Monthly, PrizeAmount: 500_00, Currency: "USD", CooldownDays: 90},
	}
}
