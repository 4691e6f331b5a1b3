package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thebtf/claude-mem-bridge/internal/search"
)

func searchCmd() *cobra.Command {
	var (
		limit   int
		project string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local memory database without the worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			query := strings.Join(args, " ")

			text, err := search.NewLocal(cfg.DBPath).Search(cmd.Context(), query, limit, project)
			if err != nil {
				return fmt.Errorf("search %s: %w", cfg.DBPath, err)
			}
			if text == "" {
				text = search.NoResults(query)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "Maximum number of results (1-100)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "Only search this project")
	return cmd
}
