package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cellar-forge/internal/config"
	"cellar-forge/internal/ctxlog"
	"cellar-forge/internal/pipeline"
)

// exitError carries the process exit code for failures detected before the
// pipeline starts.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != 0 {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cellar-forge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfgPath := fs.String("config", "", "Path to HCL config (defaults only when empty)")
	source := fs.String("data", "", "Override dataset source (file, directory, archive or URL)")
	target := fs.String("target", "", "Override target column")
	epochs := fs.Int("epochs", 0, "Number of training epochs")
	batchSize := fs.Int("batch-size", 0, "Batch size")
	lr := fs.Float64("lr", 0, "Adam learning rate")
	seed := fs.Int64("seed", 0, "PRNG seed for split, init, dropout and shuffling")
	logEvery := fs.Int("log-every", 0, "Log every N steps")
	out := fs.String("out", "", "Override artifact path")
	plotsDir := fs.String("plots-dir", "", "Override plots directory")
	evaluate := fs.String("evaluate", "", "Evaluate an existing artifact instead of training")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return &exitError{code: 0, err: err}
		}
		return &exitError{code: 2, err: err}
	}

	var seedOverride *int64
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedOverride = seed
		}
	})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return &exitError{code: 2, err: errors.Wrap(err, "load config")}
	}
	cfg.ApplyOverrides(config.Overrides{
		Source:       *source,
		Target:       *target,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Seed:         seedOverride,
		LogEvery:     *logEvery,
		ArtifactPath: *out,
		PlotsDir:     *plotsDir,
	})
	if err := cfg.Validate(); err != nil {
		return &exitError{code: 2, err: errors.Wrap(err, "invalid config")}
	}

	runID := uuid.NewString()
	logger := newLogger(*logLevel, *logFormat, stderr).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logHost(logger)

	opts := pipeline.Options{Config: cfg, RunID: runID}
	if *evaluate != "" {
		sum, err := pipeline.Evaluate(ctx, opts, *evaluate)
		if err != nil {
			logger.Error("evaluation failed", "error", err)
			return errors.Wrap(err, "evaluation failed")
		}
		printSummary(stdout, sum)
		return nil
	}

	logger.Info("training",
		"source", cfg.Source,
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize,
		"learning_rate", cfg.LearningRate,
		"seed", cfg.Seed,
	)
	sum, err := pipeline.Train(ctx, opts)
	if err != nil {
		logger.Error("training failed", "error", err)
		return errors.Wrap(err, "training failed")
	}
	printSummary(stdout, sum)
	return nil
}

func printSummary(w io.Writer, sum *pipeline.Summary) {
	fmt.Fprintf(w, "run %s: %d rows, %d features (train=%d validation=%d test=%d)\n",
		sum.RunID, sum.Rows, len(sum.Features), sum.Sizes.Train, sum.Sizes.Validation, sum.Sizes.Test)
	if n := len(sum.History.Validation); n > 0 {
		fmt.Fprintf(w, "final loss: train=%.4f validation=%.4f\n", sum.History.Train[n-1], sum.History.Validation[n-1])
	}
	r2 := "undefined"
	if sum.Test.R2Defined {
		r2 = fmt.Sprintf("%.4f", sum.Test.R2)
	}
	fmt.Fprintf(w, "test: mse=%.4f rmse=%.4f r2=%s (baseline rmse=%.4f)\n",
		sum.Test.MSE, sum.Test.RMSE, r2, sum.Baseline.RMSE)
	fmt.Fprintf(w, "artifact: %s\n", sum.Artifact)
	for _, p := range sum.Plots {
		fmt.Fprintf(w, "plot: %s\n", p)
	}
}
