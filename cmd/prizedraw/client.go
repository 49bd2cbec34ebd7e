package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prizedraw/internal/config"
	"prizedraw/pkg/drawclient"
)

var (
	drawCmd = &cobra.Command{
		Use:   "draw",
		Short: "Run draws and confirm payments on a running server",
	}
	drawRunCmd = &cobra.Command{
		Use:   "run <draw-type>",
		Short: "Run the draw for the current period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			res, err := c.RunDrawWithRetry(cmd.Context(), args[0], retryOptions())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	drawConfirmCmd = &cobra.Command{
		Use:   "confirm <draw-type> <winner-id>",
		Short: "Confirm payment of a pending winner",
		Long: wrapString(`Confirm payment of a pending winner. The winner id may be the winner
record id, the participant id or the account reference.`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operator := viper.GetString("operator")
			if operator == "" {
				return fmt.Errorf("--operator is required")
			}
			res, err := newClient().ConfirmWithRetry(cmd.Context(), args[0], args[1], operator, retryOptions())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	drawPendingCmd = &cobra.Command{
		Use:   "pending <draw-type>",
		Short: "List winners awaiting payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := newClient().Pending(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(ws)
		},
	}

	locksCmd = &cobra.Command{
		Use:   "locks",
		Short: "Inspect and recover resource locks",
	}
	locksDiagCmd = &cobra.Command{
		Use:   "diag",
		Short: "Print lock diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newClient().Diagnostics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}
	locksForceCmd = &cobra.Command{
		Use:   "force-release",
		Short: "Release locks held longer than --max-hold",
		RunE: func(cmd *cobra.Command, args []string) error {
			released, err := newClient().ForceReleaseStale(cmd.Context(), viper.GetDuration("max-hold"))
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"released": released})
		},
	}
	locksWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Poll diagnostics and print snapshots with long-held locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := newClient().WatchLocks(cmd.Context(), drawclient.WatchOptions{
				Interval: viper.GetDuration("interval"),
				HoldWarn: viper.GetDuration("hold-warn"),
			})
			for d := range ch {
				if err := printJSON(d); err != nil {
					return err
				}
			}
			return nil
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := newClient().Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{drawCmd, locksCmd, backupCmd} {
		config.AddClientFlags(c)
		c.PersistentFlags().Duration("timeout", 40*time.Second, wrapString("HTTP timeout of a single request"))
	}
	drawCmd.PersistentFlags().Int("retries", 5, wrapString("How often a TIMED_OUT response is retried"))

	drawConfirmCmd.Flags().String("operator", os.Getenv("USER"), wrapString("Operator id recorded with the confirmation"))
	drawCmd.AddCommand(drawRunCmd, drawConfirmCmd, drawPendingCmd)

	locksForceCmd.Flags().Duration("max-hold", 120*time.Second, wrapString("Release locks held strictly longer than this"))
	locksWatchCmd.Flags().Duration("interval", time.Second, wrapString("Poll interval"))
	locksWatchCmd.Flags().Duration("hold-warn", time.Minute, wrapString("Only print snapshots with a lock held at least this long"))
	locksCmd.AddCommand(locksDiagCmd, locksForceCmd, locksWatchCmd)
}

func newClient() *drawclient.Client {
	return drawclient.New(viper.GetString(config.KeyServer), &http.Client{Timeout: viper.GetDuration("timeout")})
}

func retryOptions() drawclient.RetryOptions {
	return drawclient.RetryOptions{
		MaxRetries: viper.GetInt("retries"),
		MinRetry:   100 * time.Millisecond,
		MaxRetry:   2 * time.Second,
		JitterFrac: 0.2,
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
