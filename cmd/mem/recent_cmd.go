package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/claude-mem-bridge/internal/search"
)

func recentCmd() *cobra.Command {
	var (
		limit   int
		project string
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest observations in the local memory database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			text, err := search.NewLocal(cfg.DBPath).Recent(cmd.Context(), project, limit)
			if err != nil {
				return fmt.Errorf("read %s: %w", cfg.DBPath, err)
			}
			if text == "" {
				text = "No memory database at " + cfg.DBPath
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "Maximum number of observations (1-100)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Only list this project")
	return cmd
}
