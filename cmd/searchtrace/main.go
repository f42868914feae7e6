package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchtrace/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "searchtrace",
	Short: "Browsing-research capture agent",
	Long:  "searchtrace records search and shopping behavior signals, classifies the platform they happened on, and uploads enriched event batches to a collector.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".searchtrace", "config.json"),
		"config file path")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
