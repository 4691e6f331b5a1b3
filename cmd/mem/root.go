package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/claude-mem-bridge/internal/config"
	"github.com/thebtf/claude-mem-bridge/internal/plugin"
	"github.com/thebtf/claude-mem-bridge/internal/search"
	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:           "mem",
		Short:         "Persistent memory bridge for coding assistants",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(debug)
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(searchCmd())
	cmd.AddCommand(recentCmd())
	cmd.AddCommand(workerCmd())
	cmd.AddCommand(proxyCmd())
	cmd.AddCommand(mcpCmd())
	cmd.AddCommand(bridgeCmd())
	cmd.AddCommand(configCmd())
	return cmd
}

// setupLogging sends logs to stderr; stdout carries MCP and bridge traffic.
func setupLogging(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	return cfg
}

// newPlugin wires a worker manager and the local index into a plugin for dir.
func newPlugin(cfg *config.Config, dir string) (*worker.Manager, *plugin.Plugin, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}

	mgr := worker.NewManager(worker.OptionsFromConfig(cfg))
	p, err := plugin.New(plugin.Options{
		Worker:        mgr,
		Client:        worker.NewClient(mgr, mgr.HTTPClient()),
		Local:         search.NewLocal(cfg.DBPath),
		Directory:     dir,
		ExcludedTools: cfg.ExcludedTools,
		SessionCap:    cfg.SessionCap,
	})
	if err != nil {
		return nil, nil, err
	}
	return mgr, p, nil
}
