package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var _ Model = (*Regressor)(nil)

// Options configures a Regressor.
type Options struct {
	// Hidden lists the widths of the hidden layers; the output layer is always 1 wide.
	Hidden []int
	// Dropout is the drop probability applied after the first DropoutLayers activations.
	Dropout       float64
	DropoutLayers int
	Seed          int64
}

// DefaultOptions returns the wine-quality topology: 64 → 32 → 16 → 1 with
// dropout 0.2 after the first two activations.
func DefaultOptions() Options {
	return Options{
		Hidden:        []int{64, 32, 16},
		Dropout:       0.2,
		DropoutLayers: 2,
		Seed:          42,
	}
}

// Regressor is a feed-forward network with ReLU hidden layers and a linear
// scalar output, trained with mean squared error.
type Regressor struct {
	inputDim      int
	hidden        []int
	layers        []*dense
	dropout       float64
	dropoutLayers int
	training      bool
	rng           *rand.Rand

	// activations recorded by the last training forward pass
	inputs []*mat.Dense
	pre    []*mat.Dense
	masks  [][]float64
}

type dense struct {
	in, out int
	w       *mat.Dense // in x out
	b       []float64
	dw      *mat.Dense
	db      []float64
}

// LayerState is a copy of one layer's parameters.
type LayerState struct {
	In, Out int
	Weights []float64 // row-major in x out
	Bias    []float64
}

// NewRegressor constructs the network with seeded uniform(±1/sqrt(fan_in))
// initialization. Empty Hidden falls back to DefaultOptions' topology.
func NewRegressor(inputDim int, opts Options) *Regressor {
	if inputDim <= 0 {
		panic(fmt.Sprintf("model: input dimension must be > 0 (got %d)", inputDim))
	}
	if len(opts.Hidden) == 0 {
		def := DefaultOptions()
		opts.Hidden = def.Hidden
		opts.DropoutLayers = def.DropoutLayers
	}
	if opts.DropoutLayers > len(opts.Hidden) {
		opts.DropoutLayers = len(opts.Hidden)
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		panic(fmt.Sprintf("model: dropout must be in [0, 1) (got %g)", opts.Dropout))
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	widths := append(append([]int{inputDim}, opts.Hidden...), 1)
	layers := make([]*dense, 0, len(widths)-1)
	for i := 0; i+1 < len(widths); i++ {
		layers = append(layers, newDense(widths[i], widths[i+1], rng))
	}

	return &Regressor{
		inputDim:      inputDim,
		hidden:        append([]int(nil), opts.Hidden...),
		layers:        layers,
		dropout:       opts.Dropout,
		dropoutLayers: opts.DropoutLayers,
		training:      true,
		rng:           rng,
		inputs:        make([]*mat.Dense, len(layers)),
		pre:           make([]*mat.Dense, len(layers)),
		masks:         make([][]float64, len(layers)),
	}
}

func newDense(in, out int, rng *rand.Rand) *dense {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}
	return &dense{
		in:  in,
		out: out,
		w:   mat.NewDense(in, out, w),
		b:   b,
		dw:  mat.NewDense(in, out, nil),
		db:  make([]float64, out),
	}
}

// InputDim returns the feature width the network expects.
func (r *Regressor) InputDim() int { return r.inputDim }

// Hidden returns the hidden layer widths.
func (r *Regressor) Hidden() []int { return append([]int(nil), r.hidden...) }

// Dropout returns the dropout probability and how many activations it follows.
func (r *Regressor) Dropout() (p float64, layers int) { return r.dropout, r.dropoutLayers }

// Training reports whether dropout is active.
func (r *Regressor) Training() bool { return r.training }

// SetTraining switches between training mode (dropout on) and evaluation mode.
func (r *Regressor) SetTraining(training bool) { r.training = training }

// Forward runs the network on a (batch, input) matrix in the current mode.
func (r *Regressor) Forward(x *mat.Dense) *mat.Dense {
	if _, c := x.Dims(); c != r.inputDim {
		panic(fmt.Sprintf("model: forward got %d features, want %d", c, r.inputDim))
	}
	return r.forward(x, false)
}

// Predict returns one prediction per row. It always runs with dropout disabled.
func (r *Regressor) Predict(x [][]float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, nil
	}
	in, err := r.toDense(x)
	if err != nil {
		return nil, err
	}
	training := r.training
	r.training = false
	out := r.forward(in, false)
	r.training = training

	preds := make([]float64, len(x))
	copy(preds, out.RawMatrix().Data)
	return preds, nil
}

// TrainStep runs forward and backward on batch in the current mode, applies
// one optimizer step and returns the batch MSE.
func (r *Regressor) TrainStep(batch Batch, opt Optimizer) float64 {
	if batch.Len() == 0 {
		return 0
	}
	loss := r.lossAndGrad(batch)
	opt.Step(r.Parameters(), r.Gradients())
	return loss
}

// Loss returns the batch MSE without touching parameters or gradients.
func (r *Regressor) Loss(batch Batch) (float64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	preds, err := r.Predict(batch.Inputs)
	if err != nil {
		return 0, err
	}
	return mse(preds, batch.Targets), nil
}

func (r *Regressor) lossAndGrad(batch Batch) float64 {
	x, err := r.toDense(batch.Inputs)
	if err != nil {
		panic(err)
	}
	n := batch.Len()
	out := r.forward(x, true)

	grad := mat.NewDense(n, 1, nil)
	var loss float64
	for i, target := range batch.Targets {
		d := out.At(i, 0) - target
		loss += d * d
		grad.Set(i, 0, 2*d/float64(n))
	}
	r.backward(grad)
	return loss / float64(n)
}

func (r *Regressor) forward(x *mat.Dense, record bool) *mat.Dense {
	last := len(r.layers) - 1
	a := x
	for i, l := range r.layers {
		n, _ := a.Dims()
		z := mat.NewDense(n, l.out, nil)
		z.Mul(a, l.w)
		for row := 0; row < n; row++ {
			floats.Add(z.RawRowView(row), l.b)
		}
		if record {
			r.inputs[i] = a
			r.pre[i] = z
			r.masks[i] = nil
		}
		if i == last {
			return z
		}

		act := mat.NewDense(n, l.out, nil)
		act.Apply(relu, z)
		if r.training && r.dropout > 0 && i < r.dropoutLayers {
			mask := r.dropoutMask(n * l.out)
			floats.Mul(act.RawMatrix().Data, mask)
			if record {
				r.masks[i] = mask
			}
		}
		a = act
	}
	return a
}

// backward propagates dOut (gradient of the loss w.r.t. the network output)
// and fills every layer's dw and db.
func (r *Regressor) backward(dOut *mat.Dense) {
	last := len(r.layers) - 1
	d := dOut
	for i := last; i >= 0; i-- {
		l := r.layers[i]
		n, _ := d.Dims()
		if i < last {
			grad := d.RawMatrix().Data
			if mask := r.masks[i]; mask != nil {
				floats.Mul(grad, mask)
			}
			for k, v := range r.pre[i].RawMatrix().Data {
				if v <= 0 {
					grad[k] = 0
				}
			}
		}

		l.dw.Mul(r.inputs[i].T(), d)
		for k := range l.db {
			l.db[k] = 0
		}
		for row := 0; row < n; row++ {
			floats.Add(l.db, d.RawRowView(row))
		}

		if i > 0 {
			prev := mat.NewDense(n, l.in, nil)
			prev.Mul(d, l.w.T())
			d = prev
		}
	}
}

func (r *Regressor) dropoutMask(size int) []float64 {
	keep := 1 / (1 - r.dropout)
	mask := make([]float64, size)
	for i := range mask {
		if r.rng.Float64() >= r.dropout {
			mask[i] = keep
		}
	}
	return mask
}

// Parameters returns the live parameter slices: w0, b0, w1, b1, ...
func (r *Regressor) Parameters() [][]float64 {
	params := make([][]float64, 0, 2*len(r.layers))
	for _, l := range r.layers {
		params = append(params, l.w.RawMatrix().Data, l.b)
	}
	return params
}

// Gradients returns the gradient slices matching Parameters.
func (r *Regressor) Gradients() [][]float64 {
	grads := make([][]float64, 0, 2*len(r.layers))
	for _, l := range r.layers {
		grads = append(grads, l.dw.RawMatrix().Data, l.db)
	}
	return grads
}

// Layers returns a copy of every layer's parameters.
func (r *Regressor) Layers() []LayerState {
	states := make([]LayerState, len(r.layers))
	for i, l := range r.layers {
		states[i] = LayerState{
			In:      l.in,
			Out:     l.out,
			Weights: append([]float64(nil), l.w.RawMatrix().Data...),
			Bias:    append([]float64(nil), l.b...),
		}
	}
	return states
}

// SetLayers overwrites the parameters with states. Every layer shape must
// match the network's topology.
func (r *Regressor) SetLayers(states []LayerState) error {
	if len(states) != len(r.layers) {
		return errors.Wrapf(ErrDimension, "got %d layers, topology has %d", len(states), len(r.layers))
	}
	for i, s := range states {
		l := r.layers[i]
		if s.In != l.in || s.Out != l.out || len(s.Weights) != l.in*l.out || len(s.Bias) != l.out {
			return errors.Wrapf(ErrDimension, "layer %d is %dx%d with %d weights, topology wants %dx%d",
				i, s.In, s.Out, len(s.Weights), l.in, l.out)
		}
	}
	for i, s := range states {
		copy(r.layers[i].w.RawMatrix().Data, s.Weights)
		copy(r.layers[i].b, s.Bias)
	}
	return nil
}

func (r *Regressor) toDense(x [][]float64) (*mat.Dense, error) {
	data := make([]float64, 0, len(x)*r.inputDim)
	for i, row := range x {
		if len(row) != r.inputDim {
			return nil, errors.Wrapf(ErrDimension, "row %d has %d features, want %d", i, len(row), r.inputDim)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(x), r.inputDim, data), nil
}

func relu(_, _ int, v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

func mse(pred, target []float64) float64 {
	var sum float64
	for i, p := range pred {
		d := p - target[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}
