package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eringen/starch"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "starch",
		Short: "A content site engine built with Go, Echo, and templ",
		Long: `Starch serves a content site from a configuration file.

Content types and rewrite routes are declared in the config; records
live in SQLite or DynamoDB and are edited through the admin at /admin/.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "starch.yaml", "site configuration file (.yaml or .jsonc)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		routesCmd(&configPath),
		typesCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadApp reads the configuration and builds an app logging to stderr.
func loadApp(path string) (*starch.App, error) {
	cfg, err := starch.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if cfg.Environment == starch.EnvDevelopment {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return starch.New(cfg, starch.WithLogger(logger)), nil
}
