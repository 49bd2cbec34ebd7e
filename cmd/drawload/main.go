// Command drawload hammers a running prizedraw server with concurrent draw
// and confirm calls and reports whether each period produced exactly one
// winner and exactly one confirmation.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prizedraw/pkg/drawclient"
)

// WinnerBook records every winner the load generator observed and flags a
// period that reports more than one distinct winner.
type WinnerBook struct {
	mu         sync.Mutex
	byPeriod   map[string]string
	duplicates int64
}

func NewWinnerBook() *WinnerBook {
	return &WinnerBook{byPeriod: make(map[string]string)}
}

func (b *WinnerBook) Observe(period, winnerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.byPeriod[period]; ok && prev != winnerID {
		b.duplicates++
		return
	}
	b.byPeriod[period] = winnerID
}

func (b *WinnerBook) Winners() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.byPeriod))
	for k, v := range b.byPeriod {
		out[k] = v
	}
	return out
}

func (b *WinnerBook) Duplicates() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duplicates
}

type counters struct {
	selected   int64
	alreadyRun int64
	noEligible int64
	timedOut   int64
	errors     int64

	confirmed        int64
	alreadyConfirmed int64
	notFound         int64
}

var rootCmd = &cobra.Command{
	Use:   "drawload",
	Short: "contention test for a prizedraw server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	f := rootCmd.Flags()
	f.String("url", "http://localhost:8080", "prizedraw base URL")
	f.String("draw", "daily", "draw type")
	f.Int("clients", 50, "number of concurrent clients")
	f.Duration("duration", 10*time.Second, "test duration")
	f.String("operator", "drawload", "operator id used for confirmations")
	viper.SetEnvPrefix("drawload")
	viper.AutomaticEnv()
}

func run(ctx context.Context) error {
	var (
		baseURL  = viper.GetString("url")
		drawType = viper.GetString("draw")
		clients  = viper.GetInt("clients")
		operator = viper.GetString("operator")
	)
	if clients <= 0 {
		return fmt.Errorf("clients must be > 0")
	}

	c := drawclient.New(baseURL, &http.Client{Timeout: 40 * time.Second})
	book := NewWinnerBook()
	var cnt counters

	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("duration"))
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				res, err := c.RunDraw(ctx, drawType)
				var to *drawclient.TimedOutError
				switch {
				case errors.As(err, &to):
					atomic.AddInt64(&cnt.timedOut, 1)
					time.Sleep(time.Duration(to.RecommendedRetry) * time.Millisecond)
					continue
				case err != nil:
					if ctx.Err() == nil {
						atomic.AddInt64(&cnt.errors, 1)
					}
					continue
				}
				switch res.Outcome {
				case "WINNER_SELECTED":
					atomic.AddInt64(&cnt.selected, 1)
					if res.Winner != nil {
						book.Observe(res.Period, res.Winner.ID)
					}
				case "ALREADY_RUN":
					atomic.AddInt64(&cnt.alreadyRun, 1)
				case "NO_ELIGIBLE_PARTICIPANTS":
					atomic.AddInt64(&cnt.noEligible, 1)
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	// Every client races to confirm each winner it saw.
	confirmCtx, cancelConfirm := context.WithTimeout(context.Background(), time.Minute)
	defer cancelConfirm()
	for _, winnerID := range book.Winners() {
		var cwg sync.WaitGroup
		for i := 0; i < clients; i++ {
			cwg.Add(1)
			go func() {
				defer cwg.Done()
				res, err := c.ConfirmWithRetry(confirmCtx, drawType, winnerID, operator, drawclient.RetryOptions{MaxRetries: 10})
				if err != nil {
					atomic.AddInt64(&cnt.errors, 1)
					return
				}
				switch res.Outcome {
				case "SUCCESS":
					atomic.AddInt64(&cnt.confirmed, 1)
				case "ALREADY_CONFIRMED":
					atomic.AddInt64(&cnt.alreadyConfirmed, 1)
				case "NOT_FOUND":
					atomic.AddInt64(&cnt.notFound, 1)
				}
			}()
		}
		cwg.Wait()
	}

	winners := len(book.Winners())
	fmt.Println("=== prizedraw contention test ===")
	fmt.Printf("duration: %s, clients: %d, draw: %s\n", time.Since(start).Round(time.Millisecond), clients, drawType)
	fmt.Printf("winner_selected:   %d\n", cnt.selected)
	fmt.Printf("already_run:       %d\n", cnt.alreadyRun)
	fmt.Printf("no_eligible:       %d\n", cnt.noEligible)
	fmt.Printf("timed_out:         %d\n", cnt.timedOut)
	fmt.Printf("confirmed:         %d\n", cnt.confirmed)
	fmt.Printf("already_confirmed: %d\n", cnt.alreadyConfirmed)
	fmt.Printf("not_found:         %d\n", cnt.notFound)
	fmt.Printf("duplicate_winners: %d\n", book.Duplicates())
	fmt.Printf("errors:            %d\n", cnt.errors)

	if book.Duplicates() > 0 || int(cnt.selected) != winners || int(cnt.confirmed) != winners {
		return fmt.Errorf("idempotence violated: periods=%d selected=%d confirmed=%d duplicates=%d",
			winners, cnt.selected, cnt.confirmed, book.Duplicates())
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
