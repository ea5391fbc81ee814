package commands

import (
	"fmt"
	"os"

	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"

	"github.com/dkeye/nyx/internal/session"
)

// issue: publish a code and wait for the peer's offer.
func issueCmd() *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Publish a rendezvous code and wait for a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), func(s *session.Session) error {
				code, err := s.IssueCode()
				if err != nil {
					return err
				}
				fmt.Printf("your code: %s (valid for %s)\n", code, cfg.Client.CodeTTL)
				if showQR {
					qrterminal.GenerateWithConfig(code, qrterminal.Config{
						Level:      qrterminal.L,
						Writer:     os.Stdout,
						HalfBlocks: true,
						QuietZone:  1,
					})
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "also print the code as a QR code")
	return cmd
}
