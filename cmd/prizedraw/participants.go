package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prizedraw/internal/config"
	"prizedraw/internal/draw"
	"prizedraw/internal/storage"
)

var (
	participantsCmd = &cobra.Command{
		Use:   "participants",
		Short: "Manage draw participants directly in the database",
	}
	enrollCmd = &cobra.Command{
		Use:   "enroll <draw-type> <participant-id> <account-ref> [display-name]",
		Short: "Enroll or re-activate a participant",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := draw.Participant{ID: args[1], AccountRef: args[2]}
			if len(args) == 4 {
				p.DisplayName = args[3]
			}
			return withStore(cmd, func(s *storage.Store) error {
				if err := s.Enroll(cmd.Context(), draw.DrawType(args[0]), p); err != nil {
					return err
				}
				fmt.Printf("enrolled %s in %s\n", p.ID, args[0])
				return nil
			})
		},
	}
	withdrawCmd = &cobra.Command{
		Use:   "withdraw <draw-type> <participant-id>",
		Short: "Deactivate a participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *storage.Store) error {
				ok, err := s.Withdraw(cmd.Context(), draw.DrawType(args[0]), args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s is not an active participant of %s", args[1], args[0])
				}
				fmt.Printf("withdrew %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
)

func init() {
	participantsCmd.PersistentFlags().String(config.KeyDBPath, "prizedraw.db", wrapString("sqlite database file"))
	participantsCmd.PersistentFlags().String(config.KeyCatalog, "", wrapString("draw catalog YAML file (built-in catalog when empty)"))
	participantsCmd.AddCommand(enrollCmd, withdrawCmd)
}

func withStore(cmd *cobra.Command, fn func(s *storage.Store) error) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	db, err := storage.Open(cmd.Context(), storage.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(storage.NewStore(db, cfg.Catalog, nil))
}
