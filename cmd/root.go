/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/config"
	"github.com/blacktop/unipost/internal/logutil"
)

var (
	configPath string
	verbose    bool
	userFlag   string

	// set at build time via -ldflags
	version = "dev"
	commit  = "none"

	cfg *config.Config
)

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unipost",
		Short: "Publish one post to many social networks",
		Long: "unipost publishes content to Twitter/X, Mastodon, Bluesky and Discord in one pass. " +
			"Each platform is validated, authenticated and retried independently and a per-platform " +
			"result is reported for every target.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&userFlag, "user", "u", defaultUser(), "User the credentials and history belong to")

	cmd.AddCommand(
		newPublishCommand(),
		newCredentialsCommand(),
		newHistoryCommand(),
		newDraftCommand(),
		newServeCommand(),
		newTokenCommand(),
		newConfigCommand(),
		newCompletionCommand(),
		newVersionCommand(),
	)

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("UNIPOST_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" || cmd.Name() == "completion" {
		return nil
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	logutil.SetJSON(cfg.Log.JSON)
	logutil.SetLevel(cfg.Log.Level)
	if verbose {
		logutil.SetVerbose(true)
	}
	logutil.Debugf("config loaded: path=%q", configPath)
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "unipost %s (%s)\n", version, commit)
		},
	}
}
