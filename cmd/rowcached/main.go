package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cachegrid/rowcache/pkg/config"
	"github.com/cachegrid/rowcache/pkg/log"
	"github.com/cachegrid/rowcache/pkg/server"
	"github.com/cachegrid/rowcache/pkg/source"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rowcached",
	Short:   "rowcached - in-memory read-through row cache server",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rowcached version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "rowcached.yaml", "Path to the cache configuration file")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	logger := log.WithComponent("rowcached")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	adapter := source.NewBoltSource(cfg.BoltPath)

	srv, err := server.New(cfg, adapter)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	logger.Info().Str("config", configPath).Msg("starting")
	if err := srv.Run(context.Background()); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Info().Msg("stopped")
	return nil
}
