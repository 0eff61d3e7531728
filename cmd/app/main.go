package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/loam/internal"
	pkgconfig "github.com/starford/loam/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()

	// An explicitly named config file must exist; the default path may be
	// absent, in which case the compiled-in defaults run as-is.
	var err error
	if cmd.IsSet("config") {
		err = pkgconfig.Load(cmd.String("config"), cfg)
	} else {
		err = pkgconfig.LoadIfPresent(cmd.String("config"), cfg)
	}
	if err != nil {
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

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func scan(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunScan(ctx, cmd.String("project"), internal.WithConfig(cfg))
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("LOAM_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:  "loam",
		Usage: "Local-first Markdown knowledge graph with full-text search and live sync",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with file watchers and SSE updates",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdio with file watchers",
				Action: mcp,
			},
			{
				Name:  "sync",
				Usage: "Run a one-shot full scan and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Scan only this project (default: all)",
					},
				},
				Action: scan,
			},
		},
		// Bare invocation behaves like serve.
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
