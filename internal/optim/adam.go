// Package optim holds gradient-based parameter update rules.
package optim

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Adam is the adaptive first/second-moment optimizer with bias correction.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	step int
	m, v [][]float64
}

// State is the serialisable form of an Adam optimizer.
type State struct {
	LR      float64     `msgpack:"lr"`
	Beta1   float64     `msgpack:"beta1"`
	Beta2   float64     `msgpack:"beta2"`
	Epsilon float64     `msgpack:"epsilon"`
	Step    int         `msgpack:"step"`
	M       [][]float64 `msgpack:"m"`
	V       [][]float64 `msgpack:"v"`
}

// NewAdam returns an optimizer with the usual defaults (0.9, 0.999, 1e-8).
func NewAdam(lr float64) *Adam {
	if lr <= 0 {
		lr = 0.001
	}
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int { return a.step }

// Step updates params in place. Moment buffers are sized on first use and
// every later call must pass the same shapes.
func (a *Adam) Step(params, grads [][]float64) {
	if len(params) != len(grads) {
		panic(fmt.Sprintf("optim: %d params vs %d grads", len(params), len(grads)))
	}
	if a.m == nil {
		a.m = zerosLike(params)
		a.v = zerosLike(params)
	}
	if err := checkShapes(a.m, params); err != nil {
		panic(err)
	}

	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		floats.Scale(a.Beta1, m)
		floats.AddScaled(m, 1-a.Beta1, g)
		for j, gj := range g {
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*gj*gj
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// State returns a deep copy of the optimizer state.
func (a *Adam) State() State {
	return State{
		LR:      a.LR,
		Beta1:   a.Beta1,
		Beta2:   a.Beta2,
		Epsilon: a.Epsilon,
		Step:    a.step,
		M:       clone(a.m),
		V:       clone(a.v),
	}
}

// Restore replaces the optimizer state with s.
func (a *Adam) Restore(s State) error {
	if len(s.M) != len(s.V) {
		return errors.Errorf("optim: %d first-moment vs %d second-moment buffers", len(s.M), len(s.V))
	}
	if err := checkShapes(s.M, s.V); err != nil {
		return err
	}
	a.LR, a.Beta1, a.Beta2, a.Epsilon = s.LR, s.Beta1, s.Beta2, s.Epsilon
	a.step = s.Step
	a.m, a.v = clone(s.M), clone(s.V)
	if len(a.m) == 0 {
		a.m, a.v = nil, nil
	}
	return nil
}

func checkShapes(have, want [][]float64) error {
	if len(have) != len(want) {
		return errors.Errorf("optim: state has %d buffers, want %d", len(have), len(want))
	}
	for i := range have {
		if len(have[i]) != len(want[i]) {
			return errors.Errorf("optim: buffer %d has %d values, want %d", i, len(have[i]), len(want[i]))
		}
	}
	return nil
}

func zerosLike(src [][]float64) [][]float64 {
	out := make([][]float64, len(src))
	for i, s := range src {
		out[i] = make([]float64, len(s))
	}
	return out
}

func clone(src [][]float64) [][]float64 {
	if src == nil {
		return nil
	}
	out := make([][]float64, len(src))
	for i, s := range src {
		out[i] = append([]float64(nil), s...)
	}
	return out
}
