package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/claude-mem-bridge/internal/config"
	"github.com/thebtf/claude-mem-bridge/internal/plugin"
)

func bridgeCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve host hooks and tool calls as JSON lines on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			_, p, err := newPlugin(cfg, dir)
			if err != nil {
				return err
			}

			if w, err := config.NewWatcher(config.SettingsPath()); err != nil {
				log.Warn().Err(err).Msg("Settings watcher unavailable")
			} else {
				w.OnChange(func(next *config.Config) {
					p.SetExcludedTools(next.ExcludedTools)
					log.Info().Strs("excluded_tools", next.ExcludedTools).Msg("Excluded tools updated")
				})
				if err := w.Start(); err != nil {
					log.Warn().Err(err).Msg("Settings watcher unavailable")
				}
				defer w.Stop()
			}

			log.Info().Str("project", p.Project()).Msg("Bridge ready")
			return plugin.NewBridge(p).Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&dir, "directory", "", "Project directory (default: working directory)")
	return cmd
}
