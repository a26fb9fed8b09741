package model

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDimension reports an input whose width does not match the model.
var ErrDimension = errors.New("model: input dimension mismatch")

// Batch represents a minibatch of features and regression targets.
type Batch struct {
	Inputs  [][]float64
	Targets []float64
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Targets) }

// Optimizer applies one update to params given matching grads.
type Optimizer interface {
	Step(params, grads [][]float64)
}

// Model defines the training functionality required by the trainer.
type Model interface {
	// Forward maps a (batch, input) matrix to a (batch, 1) matrix.
	Forward(x *mat.Dense) *mat.Dense
	Predict(x [][]float64) ([]float64, error)
	TrainStep(batch Batch, opt Optimizer) float64
	SetTraining(training bool)
}
