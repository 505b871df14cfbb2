// Package main implements the draftmesh command: an HTTP server for
// refinement sessions and one-shot local runs from session files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hupe1980/draftmesh"
	"github.com/hupe1980/draftmesh/config"
	"github.com/hupe1980/draftmesh/server"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "draftmesh",
		Short: "Multi-agent document refinement engine",
		Long: `draftmesh runs writer, editor and synthesizer agents in rounds over a
working document until a round limit, a quality threshold or the credit
balance ends the session.

Configuration is read from an optional YAML file and DRAFTMESH_* environment
variables.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newRunCmd(load),
		newEstimateCmd(load),
	)

	return rootCmd
}

type loadFunc func() (*config.Config, error)

func newServeCmd(load loadFunc) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API for creating, running and streaming sessions.

Examples:
  # Serve on the configured address
  draftmesh serve

  # Serve on a different address with a config file
  draftmesh serve --config draftmesh.yaml --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			if addr != "" {
				cfg.Server.Addr = addr
			}

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg *prometheus.Registry

	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	dm, err := draftmesh.New(func(o *draftmesh.Options) {
		o.Config = *cfg

		if reg != nil {
			o.Registerer = reg
		}
	})
	if err != nil {
		return err
	}

	logger := dm.Logger()

	srv := server.New(dm.Engine(), func(o *server.Options) {
		o.Addr = cfg.Server.Addr
		o.HeartbeatInterval = cfg.Server.HeartbeatInterval
		o.Logger = logger
		o.MetricsPath = cfg.Metrics.Path
		o.Health = dm.Gateway().Health

		if reg != nil {
			o.Gatherer = reg
		}
	})

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(err, srv.Shutdown(shutdownCtx), dm.Close(shutdownCtx))
}
