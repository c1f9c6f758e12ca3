package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		out          = flag.String("xlsx", "", "write an XLSX report of all records to this path (optional)")
		retryMissing = flag.Bool("retry-missing", false, "also re-download completed jobs whose content is missing")
		concurrency  = flag.Int("concurrency", 0, "override SWEEP_CONCURRENCY")
	)
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: loading config: %v\n", err)
		os.Exit(2)
	}
	if *retryMissing {
		cfg.Sweep.RetryMissingContent = true
	}
	if *concurrency > 0 {
		cfg.Sweep.Concurrency = *concurrency
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	rep, sweepErr := a.Sweeper.Sweep(ctx)
	if sweepErr != nil {
		logger.Error("sweep failed", "error", sweepErr, "persist_failed", rep.PersistFailed)
	}

	fmt.Printf("examined=%d downloaded=%d already_done=%d still_running=%d errored=%d failed=%d skipped=%d persist_failed=%d\n",
		rep.Examined(), rep.Downloaded, rep.AlreadyDone, rep.StillRunning, rep.Errored, rep.Failed, rep.Skipped, rep.PersistFailed)
	for _, k := range rep.NewlyCompleted {
		fmt.Printf("  completed: %s\n", k.String())
	}
	if sweepErr != nil {
		a.Close()
		os.Exit(1)
	}

	if *out == "" {
		return
	}
	data, err := a.Export.ExportRecordsXLSX(ctx, &rep)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write report", "path", *out, "error", err)
		os.Exit(1)
	}
	logger.Info("report written", "path", *out, "bytes", len(data))
}
