package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var flags connectionFlags
	var cols, rows int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold a ttyd connection headless and expose it over the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cfg.API.Addr == "" {
				return errors.New("serve needs api.addr or --api-addr")
			}

			s, err := openStack(ctx, cfg, cols, rows, false)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			if err := s.serveAPI(ctx, cfg.API.Addr); err != nil {
				return err
			}
			if err := s.client.Start(); err != nil {
				return err
			}
			pslog.Ctx(ctx).Info("serving terminal", "endpoint", cfg.Endpoint, "api", cfg.API.Addr)
			<-ctx.Done()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&cols, "cols", 80, "initial terminal width")
	cmd.Flags().IntVar(&rows, "rows", 24, "initial terminal height")
	return cmd
}
