// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analytics"
	"github.com/AleutianAI/kgexplore/services/kgexplore/config"
	"github.com/AleutianAI/kgexplore/services/kgexplore/telemetry"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kgexplore",
		Short:         "Incremental analytics over an RDF knowledge graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (defaults are embedded)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Debug logging and gin debug mode")

	root.AddCommand(newServeCmd(opts), newCheckCmd(opts), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kgexplore %s\n", kgexplore.ServiceVersion)
		},
	}
}

// loadConfig loads the configuration and builds the process logger from it.
func loadConfig(ctx context.Context, opts *rootOptions) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(ctx, opts.configPath, nil)
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	if opts.debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "kgexplore",
		JSON:    cfg.Logging.JSON,
	})
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var dataDir string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the data directory, run analyses, and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(ctx, opts)
			if err != nil {
				return err
			}
			defer logger.Close()
			if dataDir != "" {
				cfg.Data.Dir = dataDir
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return serve(ctx, cfg, logger.Slog(), opts.debug)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "Data directory (overrides data.dir)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides server.port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, debug bool) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Telemetry, kgexplore.ServiceVersion))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	svc, err := kgexplore.New(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           kgexplore.NewRouter(svc),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting kgexplore server",
			slog.String("address", server.Addr),
			slog.String("data_dir", cfg.Data.Dir),
			slog.Int("analyses", svc.Registry().Len()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down kgexplore server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return server.Shutdown(sctx)
	})
	return g.Wait()
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the analysis requirement graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer logger.Close()
			return check(cmd, cfg, logger.Slog())
		},
	}
}

func check(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	registry, err := kgexplore.NewRegistry(analytics.NewSuite(analytics.Deps{Logger: logger}), cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SERVICE", "REQUIRES", "PROVIDES")
	for _, r := range registry.Snapshot() {
		t.Row(r.Descriptor.Name, joinReqs(r.Descriptor.Requirements()), joinReqs(r.Descriptor.Capabilities))
	}
	fmt.Fprintln(out, t.Render())

	disabled := make([]string, 0)
	for name := range cfg.Disabled() {
		disabled = append(disabled, name)
	}
	slices.Sort(disabled)
	for _, name := range disabled {
		fmt.Fprintf(out, "disabled: %s\n", name)
	}

	unsatisfiable := registry.Unsatisfiable()
	names := make([]string, 0, len(unsatisfiable))
	for name := range unsatisfiable {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("unsatisfiable: %s (missing %s)", name, joinReqs(unsatisfiable[name]))))
	}

	if err := registry.DetectCycles(); err != nil {
		return err
	}
	if len(unsatisfiable) > 0 {
		return fmt.Errorf("%d analyses can never run", len(unsatisfiable))
	}
	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("ok: %d analyses", registry.Len())))
	return nil
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F5A623"))
)

func joinReqs[T ~string](in []T) string {
	if len(in) == 0 {
		return "-"
	}
	parts := make([]string, len(in))
	for i, r := range in {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
