package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/coherence/internal"
	pkgconfig "github.com/starford/coherence/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.ServeMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func analyze(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("analyze: at least one record file is required")
	}

	// Analysis works without a config file; flags override whatever was loaded.
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cmd.IsSet("window-size") {
		cfg.Coherence.WindowSize = cmd.Duration("window-size")
	}
	if cmd.IsSet("window-step") {
		cfg.Coherence.WindowStep = cmd.Duration("window-step")
	}
	if cmd.Bool("exact") {
		cfg.Coherence.Approximate = false
	}
	if err := cfg.Coherence.Validate(); err != nil {
		return err
	}

	return internal.Analyze(ctx, files, os.Stdout, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:   "coherence",
		Usage:  "Temporal coherence monitor: minimum-cut signals over windowed relational record streams",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE stream and records directory watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:      "analyze",
				Usage:     "Compute signals, events and boundaries for record files and print a JSON report",
				ArgsUsage: "FILE...",
				Action:    analyze,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "window-size", Usage: "Temporal window duration"},
					&cli.DurationFlag{Name: "window-step", Usage: "Distance between window starts"},
					&cli.BoolFlag{Name: "exact", Usage: "Always use the exact minimum cut"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
