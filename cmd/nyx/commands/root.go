package commands

import (
	"context"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/nyx/internal/config"
)

var (
	cfg      *config.Config
	relayURL string
	outDir   string
	debug    bool
)

func Execute() error {
	root := &cobra.Command{
		Use:          "nyx",
		Short:        "Ephemeral end-to-end encrypted sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			c, err := config.Load()
			if err != nil {
				return err
			}
			if relayURL != "" {
				c.Client.RelayURL = relayURL
			}
			if outDir == "" {
				outDir = os.TempDir()
			}
			cfg = c
			return nil
		},
	}

	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay websocket URL (default from config)")
	root.PersistentFlags().StringVar(&outDir, "out", "", "directory for received files (default system temp)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	root.AddCommand(issueCmd(), connectCmd())
	return fang.Execute(context.Background(), root, fang.WithVersion(versioninfo.Short()))
}
