// Package pipeline wires loading, preprocessing, training, evaluation,
// reporting and persistence into the two runs exposed by the CLI.
package pipeline

import (
	"context"
	"net/http"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"cellar-forge/internal/checkpoint"
	"cellar-forge/internal/config"
	"cellar-forge/internal/ctxlog"
	"cellar-forge/internal/dataset"
	"cellar-forge/internal/metrics"
	"cellar-forge/internal/report"
	"cellar-forge/internal/trainer"
)

// Options are shared by Train and Evaluate.
type Options struct {
	Config *config.Config
	RunID  string
	// Client fetches http(s) sources; http.DefaultClient when nil.
	Client *http.Client
}

// Summary reports what a run did.
type Summary struct {
	RunID    string
	Rows     int
	Features []string
	Sizes    Sizes
	History  trainer.History
	Test     metrics.Regression
	Baseline metrics.Regression
	Artifact string
	Plots    []string
}

// Sizes are the partition row counts.
type Sizes struct {
	Train, Validation, Test int
}

// Train runs the full pipeline and saves the artifact.
func Train(ctx context.Context, opts Options) (*Summary, error) {
	cfg := opts.Config
	logger := ctxlog.FromContext(ctx)

	split := dataset.SplitOptions{
		TestFraction:       cfg.TestFraction,
		ValidationFraction: cfg.ValidationFraction,
		Seed:               cfg.Seed,
	}
	parts, features, rows, err := prepare(ctx, cfg, cfg.Target, split, opts.Client)
	if err != nil {
		return nil, err
	}
	scaler, err := dataset.FitStandardizer(parts.Train.X, features)
	if err != nil {
		return nil, errors.Wrap(err, "fit standardizer")
	}
	if parts, err = standardize(scaler, parts); err != nil {
		return nil, err
	}

	res, err := trainer.Run(ctx, trainer.RunConfig{
		Train:        parts.Train,
		Validation:   parts.Validation,
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
		Dropout:      cfg.Dropout,
		Seed:         cfg.Seed,
		LogEvery:     cfg.LogEvery,
	})
	if err != nil {
		return nil, errors.Wrap(err, "train")
	}

	sum := &Summary{
		RunID:    opts.RunID,
		Rows:     rows,
		Features: features,
		Sizes:    sizes(parts),
		History:  res.History,
		Artifact: cfg.ArtifactPath,
	}
	if err := score(ctx, sum, res.Model, parts); err != nil {
		return nil, err
	}

	if cfg.PlotsDir != "" {
		plots, err := report.WriteAll(cfg.PlotsDir, report.Inputs{
			TrainLoss:      res.History.Train,
			ValidationLoss: res.History.Validation,
			Predicted:      sum.Test.Predictions,
			Actual:         parts.Test.Y,
			Residuals:      sum.Test.Residuals,
		})
		if err != nil {
			logger.Warn("diagnostic plots skipped", "error", err)
		} else {
			sum.Plots = plots
		}
	}

	artifact := checkpoint.New(opts.RunID, cfg.Target, res.Model, res.Optimizer, scaler, checkpoint.History{
		Train:      res.History.Train,
		Validation: res.History.Validation,
	})
	artifact.Split = checkpoint.Split{
		Seed:               split.Seed,
		TestFraction:       split.TestFraction,
		ValidationFraction: split.ValidationFraction,
	}
	artifact.Metrics = &checkpoint.Metrics{
		MSE:          sum.Test.MSE,
		RMSE:         sum.Test.RMSE,
		R2:           sum.Test.R2,
		R2Defined:    sum.Test.R2Defined,
		BaselineRMSE: sum.Baseline.RMSE,
	}
	if err := checkpoint.Save(cfg.ArtifactPath, artifact); err != nil {
		return nil, errors.Wrap(err, "save artifact")
	}

	logger.Info("training run complete",
		"artifact", cfg.ArtifactPath,
		"elapsed", res.Elapsed,
		"steps", res.Steps,
	)
	return sum, nil
}

// Evaluate restores the artifact at path and scores it on the test partition
// reproduced from the configured source. The split recorded in the artifact
// wins over the configured seed and fractions; artifacts without one fall
// back to the config.
func Evaluate(ctx context.Context, opts Options, path string) (*Summary, error) {
	cfg := opts.Config
	logger := ctxlog.FromContext(ctx)

	a, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	target := cfg.Target
	if a.Target != "" {
		target = a.Target
	}

	split := evaluationSplit(ctx, cfg, a.Split)
	parts, features, rows, err := prepare(ctx, cfg, target, split, opts.Client)
	if err != nil {
		return nil, err
	}
	mdl, _, err := checkpoint.Restore(a, len(features))
	if err != nil {
		return nil, err
	}
	if saved := a.Standardizer.Features; len(saved) > 0 && !slices.Equal(saved, features) {
		logger.Warn("feature names differ from the artifact", "artifact", saved, "data", features)
	}
	if parts, err = standardize(&a.Standardizer, parts); err != nil {
		return nil, err
	}

	sum := &Summary{
		RunID:    a.RunID,
		Rows:     rows,
		Features: features,
		Sizes:    sizes(parts),
		History:  trainer.History{Train: a.History.Train, Validation: a.History.Validation},
		Artifact: path,
	}
	if err := score(ctx, sum, mdl, parts); err != nil {
		return nil, err
	}
	return sum, nil
}

func evaluationSplit(ctx context.Context, cfg *config.Config, saved checkpoint.Split) dataset.SplitOptions {
	configured := dataset.SplitOptions{
		TestFraction:       cfg.TestFraction,
		ValidationFraction: cfg.ValidationFraction,
		Seed:               cfg.Seed,
	}
	if !saved.Recorded() {
		ctxlog.FromContext(ctx).Warn("artifact has no recorded split, using the configured one",
			"seed", configured.Seed,
		)
		return configured
	}
	split := dataset.SplitOptions{
		TestFraction:       saved.TestFraction,
		ValidationFraction: saved.ValidationFraction,
		Seed:               saved.Seed,
	}
	if split != configured {
		ctxlog.FromContext(ctx).Warn("configured split differs from the artifact, using the artifact's",
			"seed", split.Seed,
			"test_fraction", split.TestFraction,
			"validation_fraction", split.ValidationFraction,
		)
	}
	return split
}

func prepare(ctx context.Context, cfg *config.Config, target string, split dataset.SplitOptions, client *http.Client) (dataset.Partitions, []string, int, error) {
	var delim rune
	if cfg.Delimiter != "" {
		delim = []rune(cfg.Delimiter)[0]
	}
	table, err := dataset.Load(ctx, cfg.Source, dataset.LoadOptions{
		Delimiter:   delim,
		Target:      target,
		MinFeatures: cfg.MinFeatures,
		Client:      client,
	})
	if err != nil {
		return dataset.Partitions{}, nil, 0, err
	}
	x, y, features, err := table.XY(target)
	if err != nil {
		return dataset.Partitions{}, nil, 0, err
	}
	parts, err := dataset.Split(x, y, split)
	if err != nil {
		return dataset.Partitions{}, nil, 0, err
	}
	ctxlog.FromContext(ctx).Info("dataset split",
		"train", parts.Train.Len(),
		"validation", parts.Validation.Len(),
		"test", parts.Test.Len(),
		"features", len(features),
	)
	return parts, features, len(y), nil
}

func standardize(s *dataset.Standardizer, parts dataset.Partitions) (dataset.Partitions, error) {
	var err error
	if parts.Train, err = s.TransformPartition(parts.Train); err != nil {
		return parts, errors.Wrap(err, "standardize train")
	}
	if parts.Validation, err = s.TransformPartition(parts.Validation); err != nil {
		return parts, errors.Wrap(err, "standardize validation")
	}
	if parts.Test, err = s.TransformPartition(parts.Test); err != nil {
		return parts, errors.Wrap(err, "standardize test")
	}
	return parts, nil
}

// score fills the test and baseline metrics. Zero target variance is logged,
// not fatal: MSE and RMSE are still meaningful.
func score(ctx context.Context, sum *Summary, p metrics.Predictor, parts dataset.Partitions) error {
	logger := ctxlog.FromContext(ctx)

	test, err := metrics.Evaluate(p, parts.Test.X, parts.Test.Y)
	if err != nil && !errors.Is(err, metrics.ErrZeroVariance) {
		return errors.Wrap(err, "evaluate test partition")
	}
	if errors.Is(err, metrics.ErrZeroVariance) {
		logger.Warn("test targets are constant, R² undefined")
	}
	baseline, err := metrics.Baseline(stat.Mean(parts.Train.Y, nil), parts.Test.Y)
	if err != nil && !errors.Is(err, metrics.ErrZeroVariance) {
		return errors.Wrap(err, "evaluate baseline")
	}
	sum.Test = test
	sum.Baseline = baseline

	logger.Info("test metrics",
		"mse", test.MSE,
		"rmse", test.RMSE,
		"r2", test.R2,
		"baseline_rmse", baseline.RMSE,
	)
	return nil
}

func sizes(parts dataset.Partitions) Sizes {
	return Sizes{Train: parts.Train.Len(), Validation: parts.Validation.Len(), Test: parts.Test.Len()}
}
