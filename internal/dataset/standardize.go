package dataset

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Standardizer holds per-feature statistics fit on the training partition.
// It is never refit; validation, test and inference data reuse it as is.
type Standardizer struct {
	Features []string  `msgpack:"features"`
	Mean     []float64 `msgpack:"mean"`
	Std      []float64 `msgpack:"std"`
}

// FitStandardizer computes population mean and standard deviation per column.
// Constant columns get a unit scale so they map to zero.
func FitStandardizer(x [][]float64, features []string) (*Standardizer, error) {
	if len(x) == 0 {
		return nil, errors.Wrap(ErrShape, "standardizer: no rows to fit")
	}
	width := len(x[0])
	if len(features) != 0 && len(features) != width {
		return nil, errors.Wrapf(ErrShape, "standardizer: %d feature names for %d columns", len(features), width)
	}

	s := &Standardizer{
		Features: append([]string(nil), features...),
		Mean:     make([]float64, width),
		Std:      make([]float64, width),
	}
	col := make([]float64, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			if len(row) != width {
				return nil, errors.Wrapf(ErrShape, "standardizer: row %d has %d columns, want %d", i, len(row), width)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s, nil
}

// Width returns the number of features the standardizer was fit on.
func (s *Standardizer) Width() int { return len(s.Mean) }

// Transform returns a scaled copy of x.
func (s *Standardizer) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, errors.Wrapf(ErrShape, "standardize: row %d has %d columns, want %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// TransformPartition returns p with its features scaled.
func (s *Standardizer) TransformPartition(p Partition) (Partition, error) {
	x, err := s.Transform(p.X)
	if err != nil {
		return Partition{}, err
	}
	return Partition{X: x, Y: p.Y, Index: p.Index}, nil
}
