package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchtrace/internal/buffer"
	"github.com/searchlab/searchtrace/internal/capture"
	"github.com/searchlab/searchtrace/internal/catalog"
	"github.com/searchlab/searchtrace/internal/classify"
	"github.com/searchlab/searchtrace/internal/control"
	"github.com/searchlab/searchtrace/internal/enrich"
	"github.com/searchlab/searchtrace/internal/types"
	"github.com/searchlab/searchtrace/internal/worker"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture agent daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "searchtrace.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// A broken catalog degrades to "no platform ever matches"; generic
	// capture still proceeds.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Warn("catalog unavailable, platform detection disabled", "error", err)
		cat = nil
	}
	classifier := classify.New(cat)
	exclusions := enrich.NewExclusions(cfg.ExcludedDomains)

	eventLog := buffer.NewEventLog(cfg.DataDir)
	batches := buffer.NewBatchStore(cfg.DataDir)
	meta := buffer.NewMetaStore(cfg.DataDir)
	sink := worker.NewHTTPSink(cfg.Upload.Endpoint)

	wcfg := worker.DefaultConfig()
	if interval, err := time.ParseDuration(cfg.Upload.FlushInterval); err == nil {
		wcfg.FlushInterval = interval
	} else {
		slog.Warn("invalid flush interval, using default", "value", cfg.Upload.FlushInterval)
	}
	wcfg.MaxBufferBytes = cfg.Upload.MaxBufferBytes
	wcfg.Retry = worker.RetryPolicy{
		MaxAttempts: cfg.Upload.MaxAttempts,
		Delay:       time.Duration(cfg.Upload.RetryDelayMS) * time.Millisecond,
	}
	wk := worker.New(wcfg, eventLog, batches, meta, sink)
	defer wk.Close()

	processor := enrich.NewProcessor(classifier, exclusions, wk.Identity)

	ccfg := capture.DefaultConfig()
	ccfg.ScrollThrottle = time.Duration(cfg.Capture.ScrollThrottleMS) * time.Millisecond
	ccfg.QueryRetries = cfg.Capture.QueryRetries
	ccfg.QueryRetryDelay = time.Duration(cfg.Capture.QueryRetryDelayMS) * time.Millisecond
	ccfg.SettleDelay = time.Duration(cfg.Capture.SettleDelayMS) * time.Millisecond

	cap := capture.New(ccfg, classifier, func(ev types.CapturedEvent, view capture.PageView) {
		enriched, ok := processor.Process(ev, view)
		if !ok {
			return
		}
		if err := wk.Enqueue(context.Background(), enriched); err != nil {
			slog.Error("enqueue failed", "kind", ev.Kind, "error", err)
		}
	})

	// Resume capture when a recording session survived the restart.
	if wk.Status(context.Background()).IsRecording {
		cap.Start()
	}

	srv := control.NewServer(wk, cap, exclusions, cfg)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("searchtrace agent listening",
			"addr", cfg.ListenAddr,
			"data_dir", cfg.DataDir,
			"endpoint", cfg.Upload.Endpoint,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
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
