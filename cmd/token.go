package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/server"
)

var tokenTTL time.Duration

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := server.IssueToken([]byte(cfg.Server.JWTSecret), userFlag, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime (0 for no expiry)")
	return cmd
}
