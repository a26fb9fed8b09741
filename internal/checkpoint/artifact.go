// Package checkpoint persists a trained regressor together with the state
// needed to reproduce its predictions: optimizer moments, the fitted
// standardizer and the loss histories.
//
// Artifacts are msgpack documents compressed with zstd. Save writes to a
// temporary file in the destination directory and renames it into place, so a
// crashed run never leaves a truncated artifact behind.
package checkpoint

import (
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"cellar-forge/internal/dataset"
	"cellar-forge/internal/model"
	"cellar-forge/internal/optim"
)

// FormatVersion is bumped whenever Artifact changes incompatibly.
const FormatVersion = 1

var (
	// ErrDimensionMismatch reports an artifact whose shapes do not fit the
	// topology being restored.
	ErrDimensionMismatch = errors.New("checkpoint: dimension mismatch")
	// ErrIO reports a failure reading or writing the artifact file.
	ErrIO = errors.New("checkpoint: i/o failure")
	// ErrCorrupt reports an artifact that cannot be decoded.
	ErrCorrupt = errors.New("checkpoint: corrupt artifact")
)

// Artifact is everything persisted at the end of a run.
type Artifact struct {
	Version       int                  `msgpack:"version"`
	RunID         string               `msgpack:"run_id"`
	CreatedAt     time.Time            `msgpack:"created_at"`
	Target        string               `msgpack:"target"`
	InputDim      int                  `msgpack:"input_dim"`
	Hidden        []int                `msgpack:"hidden"`
	Dropout       float64              `msgpack:"dropout"`
	DropoutLayers int                  `msgpack:"dropout_layers"`
	Layers        []Layer              `msgpack:"layers"`
	Optimizer     optim.State          `msgpack:"optimizer"`
	Standardizer  dataset.Standardizer `msgpack:"standardizer"`
	Split         Split                `msgpack:"split"`
	History       History              `msgpack:"history"`
	Metrics       *Metrics             `msgpack:"metrics,omitempty"`
}

// Layer is one dense layer's parameters, weights row-major in x out.
type Layer struct {
	In      int       `msgpack:"in"`
	Out     int       `msgpack:"out"`
	Weights []float64 `msgpack:"weights"`
	Bias    []float64 `msgpack:"bias"`
}

// Split records how the held-out partitions were drawn, so evaluation can
// rebuild the exact test partition the model never trained on.
type Split struct {
	Seed               int64   `msgpack:"seed"`
	TestFraction       float64 `msgpack:"test_fraction"`
	ValidationFraction float64 `msgpack:"validation_fraction"`
}

// Recorded reports whether the split was saved. Older artifacts leave it zero.
func (s Split) Recorded() bool { return s.TestFraction > 0 && s.ValidationFraction > 0 }

// History is the per-epoch loss curve.
type History struct {
	Train      []float64 `msgpack:"train"`
	Validation []float64 `msgpack:"validation"`
}

// Metrics records the held-out evaluation of the saved model.
type Metrics struct {
	MSE          float64 `msgpack:"mse"`
	RMSE         float64 `msgpack:"rmse"`
	R2           float64 `msgpack:"r2"`
	R2Defined    bool    `msgpack:"r2_defined"`
	BaselineRMSE float64 `msgpack:"baseline_rmse"`
}

// New captures the current state of a run.
func New(runID, target string, mdl *model.Regressor, opt *optim.Adam, scaler *dataset.Standardizer, hist History) *Artifact {
	p, dl := mdl.Dropout()
	a := &Artifact{
		Version:       FormatVersion,
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
		Target:        target,
		InputDim:      mdl.InputDim(),
		Hidden:        mdl.Hidden(),
		Dropout:       p,
		DropoutLayers: dl,
		History:       hist,
	}
	for _, l := range mdl.Layers() {
		a.Layers = append(a.Layers, Layer{In: l.In, Out: l.Out, Weights: l.Weights, Bias: l.Bias})
	}
	if opt != nil {
		a.Optimizer = opt.State()
	}
	if scaler != nil {
		a.Standardizer = *scaler
	}
	return a
}

// Save writes a to path atomically.
func Save(path string, a *Artifact) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(ErrIO, "create %s: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return errors.Wrapf(ErrIO, "create temp file: %v", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		return errors.Wrapf(ErrIO, "zstd writer: %v", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(a); err != nil {
		zw.Close()
		return errors.Wrapf(ErrIO, "encode artifact: %v", err)
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(ErrIO, "flush artifact: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(ErrIO, "sync artifact: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(ErrIO, "close artifact: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(ErrIO, "rename artifact: %v", err)
	}
	return nil
}

// Load reads and decodes the artifact at path.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrIO, "open %s: %v", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "zstd reader: %v", err)
	}
	defer zr.Close()

	var a Artifact
	if err := msgpack.NewDecoder(zr).Decode(&a); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "decode %s: %v", path, err)
	}
	if a.Version != FormatVersion {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported format version %d (want %d)", a.Version, FormatVersion)
	}
	return &a, nil
}

// Restore rebuilds the model and optimizer from a. inputDim is the feature
// width of the data the model will be used on; it must match the persisted
// input dimension. The returned model is in evaluation mode.
func Restore(a *Artifact, inputDim int) (*model.Regressor, *optim.Adam, error) {
	if a.InputDim != inputDim {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "artifact input dimension %d, data has %d features", a.InputDim, inputDim)
	}
	if inputDim <= 0 {
		return nil, nil, errors.Wrapf(ErrCorrupt, "input dimension %d", inputDim)
	}
	if w := a.Standardizer.Width(); w != 0 && w != inputDim {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "standardizer has %d features, model has %d", w, inputDim)
	}
	if a.Dropout < 0 || a.Dropout >= 1 {
		return nil, nil, errors.Wrapf(ErrCorrupt, "dropout %g out of range", a.Dropout)
	}
	for i, h := range a.Hidden {
		if h <= 0 {
			return nil, nil, errors.Wrapf(ErrCorrupt, "hidden layer %d has width %d", i, h)
		}
	}

	mdl := model.NewRegressor(inputDim, model.Options{
		Hidden:        a.Hidden,
		Dropout:       a.Dropout,
		DropoutLayers: a.DropoutLayers,
	})
	states := make([]model.LayerState, len(a.Layers))
	for i, l := range a.Layers {
		states[i] = model.LayerState{In: l.In, Out: l.Out, Weights: l.Weights, Bias: l.Bias}
	}
	if err := mdl.SetLayers(states); err != nil {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "%v", err)
	}
	mdl.SetTraining(false)

	opt := optim.NewAdam(a.Optimizer.LR)
	if err := opt.Restore(a.Optimizer); err != nil {
		return nil, nil, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	return mdl, opt, nil
}
