// Command prizedraw runs the prize draw service and talks to it.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prizedraw/internal/config"
)

const Version = "0.3.0"

const wrap = 50

var (
	rootCmd = &cobra.Command{
		Use:   "prizedraw",
		Short: "periodic prize draws with exclusive resource locking",
		Long: fmt.Sprintf(`prizedraw (v%s)

Runs daily, weekly and monthly prize draws. Each period produces at most
one winner, and payment confirmations are applied exactly once.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.Init(viper.GetViper())
			return viper.BindPFlags(cmd.Flags())
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of prizedraw",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prizedraw v%s\n", Version)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd, drawCmd, locksCmd, backupCmd, participantsCmd)
}

// wrapString wraps help text at wrap characters.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
