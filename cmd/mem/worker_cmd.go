package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/claude-mem-bridge/internal/worker"
)

const statusTimeout = time.Second

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the memory worker process",
	}
	cmd.AddCommand(workerEnsureCmd())
	cmd.AddCommand(workerStatusCmd())
	cmd.AddCommand(workerURLCmd())
	return cmd
}

func workerEnsureCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Start the worker unless a compatible one is already running, then print its port",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := worker.NewManager(worker.OptionsFromConfig(loadConfig()))

			port := mgr.EnsureStarted(cmd.Context(), timeout)
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Readiness wait after a spawn (default from config)")
	return cmd
}

func workerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the worker on the configured port is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := worker.NewManager(worker.OptionsFromConfig(loadConfig()))

			if !mgr.WaitUntilReady(cmd.Context(), statusTimeout) {
				fmt.Fprintf(cmd.OutOrStdout(), "worker not ready at %s\n", mgr.BaseURL())
				return errors.New("worker not ready")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "worker ready at %s\n", mgr.BaseURL())
			return nil
		},
	}
}

func workerURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the configured worker base URL",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := worker.NewManager(worker.OptionsFromConfig(loadConfig()))
			fmt.Fprintln(cmd.OutOrStdout(), mgr.BaseURL())
		},
	}
}
