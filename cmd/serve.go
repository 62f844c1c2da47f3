package cmd

import (
	"github.com/spf13/cobra"

	"github.com/blacktop/unipost/internal/assist"
	"github.com/blacktop/unipost/internal/logutil"
	"github.com/blacktop/unipost/internal/server"
)

var serveAddr string

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP publish API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := server.Options{
		Addr:      cfg.Server.Addr,
		JWTSecret: cfg.Server.JWTSecret,
		RateLimit: cfg.Server.RateLimit,
		Burst:     cfg.Server.Burst,
		MediaDir:  cfg.Server.MediaDir,
		Publisher: a.orchestrator(),
		History:   a.store,
	}
	if serveAddr != "" {
		opts.Addr = serveAddr
	}
	if router, err := assist.FromConfig(cfg.Assist, cfg.AssistTimeout()); err == nil {
		opts.Drafter = router
	} else {
		logutil.Warnf("drafting disabled: %v", err)
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	return srv.Run(cmd.Context())
}
