package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/renderparity/internal/config"
	"github.com/Lllllllleong/renderparity/internal/pipeline"
	"github.com/Lllllllleong/renderparity/internal/services"
	"github.com/Lllllllleong/renderparity/internal/source"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 only when every document rendered
// identically and none failed.
func run(args []string) int {
	cfg, err := config.Load(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// --- Set up structured logging ---
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := source.Discover(cfg.InputDir)
	if err != nil {
		logger.Error("Failed to discover input documents.", "inputDir", cfg.InputDir, "error", err)
		return 1
	}
	logger.Info("Found PDF files to process.", "count", len(docs), "inputDir", cfg.InputDir)

	runner, err := services.NewCompareRunner(ctx, cfg, logger)
	if err != nil {
		logger.Error("Critical error during initialization.", "error", err)
		return 1
	}
	defer runner.Close()

	outcome, err := runner.Run(ctx, docs)
	if err != nil {
		logger.Error("Failed to aggregate results.", "outputRoot", cfg.OutputRoot, "error", err)
		return 1
	}
	pipeline.PrintSummary(os.Stdout, outcome)
	return outcome.ExitCode
}
