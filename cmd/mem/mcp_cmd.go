package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/claude-mem-bridge/internal/mcp"
)

func mcpCmd() *cobra.Command {
	var (
		httpAddr string
		dir      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the memory tools over MCP (stdio, or streamable HTTP with --http)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			_, p, err := newPlugin(cfg, dir)
			if err != nil {
				return err
			}
			srv := mcp.NewServer(p, Version)

			if httpAddr == "" {
				log.Info().Str("project", p.Project()).Msg("MCP server ready on stdio")
				return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
			}
			return serveHTTP(cmd.Context(), httpAddr, mcp.NewStreamableHandler(srv))
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&dir, "directory", "", "Project directory (default: working directory)")
	return cmd
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("MCP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
