package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"gemini-relay/internal/audit"
	"gemini-relay/internal/config"
	providerfactory "gemini-relay/internal/provider/factory"
	"gemini-relay/internal/router"
	"gemini-relay/internal/server"
	"gemini-relay/internal/telemetry"
	"gemini-relay/internal/translator"
)

type serveOptions struct {
	cfgPath string
	envFile string
	port    int
	auditDB string
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{envFile: ".env"}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", "", "YAML configuration file (defaults only when empty)")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.IntVarP(&opts.port, "port", "p", 0, "override server port from configuration")
	fs.StringVar(&opts.auditDB, "audit-db", "", "override audit ledger path from configuration")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return err
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.auditDB != "" {
		cfg.Audit.Path = opts.auditDB
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	_, closeLog, err := telemetry.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	if _, source := config.LookupAPIKey(); source != "" {
		slog.Info("gemini api key loaded", "source", source)
	} else {
		slog.Warn("gemini api key not set; chat requests will fail until it is configured")
	}

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	registry, err := providerfactory.NewModelRegistry(cfg)
	if err != nil {
		return err
	}
	gem, err := providerfactory.NewGeminiProvider(cfg, providerfactory.Telemetry{Tracer: tracer, Meter: meter})
	if err != nil {
		return err
	}

	rt, err := router.New(registry, gem, translator.NormalizeOptions{
		ValidateContents: cfg.Normalizer.ValidateContents,
	})
	if err != nil {
		return err
	}

	var recorder server.Recorder
	if cfg.Audit.Path != "" {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
		slog.Info("audit ledger enabled", "path", cfg.Audit.Path)
	}

	srv, err := server.New(cfg, rt, recorder)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(ctx)
}
