package trainer

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"cellar-forge/internal/ctxlog"
	"cellar-forge/internal/dataset"
	"cellar-forge/internal/metrics"
	"cellar-forge/internal/model"
	"cellar-forge/internal/optim"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Train      dataset.Partition
	Validation dataset.Partition

	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
	Seed         int64
	LogEvery     int

	// Model and Optimizer continue an earlier run when set.
	Model     *model.Regressor
	Optimizer *optim.Adam
}

// History holds the per-epoch mean losses of both modes.
type History struct {
	Train      []float64
	Validation []float64
}

// Result is the outcome of a training run.
type Result struct {
	Model     *model.Regressor
	Optimizer *optim.Adam
	History   History
	Steps     int
	Elapsed   time.Duration
}

// Run executes the epoch loop: a training pass over shuffled minibatches
// followed by a validation pass with parameters frozen. The returned model is
// left in evaluation mode.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	if cfg.Train.Len() == 0 {
		return nil, errors.New("trainer: training partition is empty")
	}
	if cfg.Validation.Len() == 0 {
		return nil, errors.New("trainer: validation partition is empty")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	inputDim := len(cfg.Train.X[0])
	for i, row := range cfg.Train.X {
		if len(row) != inputDim {
			return nil, errors.Wrapf(model.ErrDimension, "trainer: training row %d has %d features, want %d", i, len(row), inputDim)
		}
	}

	mdl := cfg.Model
	if mdl == nil {
		opts := model.DefaultOptions()
		opts.Dropout = cfg.Dropout
		opts.Seed = cfg.Seed
		mdl = model.NewRegressor(inputDim, opts)
	}
	if mdl.InputDim() != inputDim {
		return nil, errors.Wrapf(model.ErrDimension, "trainer: model expects %d features, data has %d", mdl.InputDim(), inputDim)
	}
	opt := cfg.Optimizer
	if opt == nil {
		opt = optim.NewAdam(cfg.LearningRate)
	}

	sampler, err := dataset.NewSampler(cfg.Train.Len(), cfg.BatchSize, cfg.Seed)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	res := &Result{Model: mdl, Optimizer: opt}
	var window metrics.Window
	started := time.Now()

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		mdl.SetTraining(true)
		var total float64
		for _, idx := range sampler.Epoch() {
			if err := ctx.Err(); err != nil {
				mdl.SetTraining(false)
				return nil, err
			}
			batch := nextBatch(cfg.Train, idx)

			startCompute := time.Now()
			loss := mdl.TrainStep(batch, opt)
			window.Record(batch.Len(), time.Since(startCompute), loss)

			total += loss * float64(batch.Len())
			res.Steps++
			if res.Steps%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				logger.Debug("train step",
					"step", res.Steps,
					"samples_per_sec", snap.SamplesPerSec,
					"step_ms", snap.AvgStepMS,
					"avg_loss", snap.AvgLoss,
					"loss", snap.LastLoss,
				)
			}
		}
		trainLoss := total / float64(cfg.Train.Len())

		mdl.SetTraining(false)
		valLoss, err := validate(mdl, cfg.Validation, cfg.BatchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "trainer: validate epoch %d", epoch)
		}

		res.History.Train = append(res.History.Train, trainLoss)
		res.History.Validation = append(res.History.Validation, valLoss)
		logger.Info("epoch complete",
			"epoch", epoch,
			"train_loss", trainLoss,
			"val_loss", valLoss,
			"val_rmse", math.Sqrt(valLoss),
		)
	}

	mdl.SetTraining(false)
	res.Elapsed = time.Since(started)
	return res, nil
}

// validate returns the sample-weighted MSE over p without touching parameters.
func validate(mdl *model.Regressor, p dataset.Partition, batchSize int) (float64, error) {
	var total float64
	for _, idx := range dataset.BatchOrder(p.Len(), batchSize, nil) {
		batch := nextBatch(p, idx)
		loss, err := mdl.Loss(batch)
		if err != nil {
			return 0, err
		}
		total += loss * float64(batch.Len())
	}
	return total / float64(p.Len()), nil
}

func nextBatch(p dataset.Partition, idx []int) model.Batch {
	inputs := make([][]float64, len(idx))
	targets := make([]float64, len(idx))
	for i, row := range idx {
		inputs[i] = p.X[row]
		targets[i] = p.Y[row]
	}
	return model.Batch{Inputs: inputs, Targets: targets}
}
