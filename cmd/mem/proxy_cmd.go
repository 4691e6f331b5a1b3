package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/claude-mem-bridge/internal/proxy"
	"github.com/thebtf/claude-mem-bridge/internal/search"
	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

func proxyCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the worker API with local search fallback",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if addr == "" {
				addr = cfg.ProxyAddr()
			}

			mgr := worker.NewManager(worker.OptionsFromConfig(cfg))
			srv, err := proxy.New(proxy.Options{
				Worker:     mgr,
				HTTPClient: mgr.HTTPClient(),
				Local:      search.NewLocal(cfg.DBPath),
				Addr:       addr,
			})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				port := mgr.EnsureStarted(ctx, 0)
				log.Info().Int("port", port).Msg("Worker resolved")
				return nil
			})
			g.Go(func() error {
				return srv.ListenAndServe(ctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
