package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchtrace/internal/collector"
)

func init() {
	rootCmd.AddCommand(collectorCmd)
}

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Start the reference upload sink",
	RunE:  runCollector,
}

func runCollector(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	dbPath := cfg.Collector.DatabasePath
	if dbPath == "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		dbPath = filepath.Join(cfg.DataDir, "collector.db")
	}

	store, err := collector.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open collector store: %w", err)
	}
	defer store.Close()

	httpServer := &http.Server{
		Addr:         cfg.Collector.ListenAddr,
		Handler:      collector.NewServer(store),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("collector listening", "addr", cfg.Collector.ListenAddr, "database", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("collector failed", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
