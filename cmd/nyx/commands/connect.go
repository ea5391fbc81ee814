package commands

import (
	"github.com/spf13/cobra"

	"github.com/dkeye/nyx/internal/session"
)

// connect <code>: start the key exchange with the holder of code.
func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <code>",
		Short: "Start a session with the holder of a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), func(s *session.Session) error {
				return s.Connect(args[0])
			})
		},
	}
}
