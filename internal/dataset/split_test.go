package dataset

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWineProportions(t *testing.T) {
	x, y := syntheticRows(1599, 11, 1)

	parts, err := Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2, Seed: 42})
	require.NoError(t, err)

	assert.Equal(t, 1023, parts.Train.Len())
	assert.Equal(t, 256, parts.Validation.Len())
	assert.Equal(t, 320, parts.Test.Len())
}

func TestSplitPartitionsAreDisjointAndComplete(t *testing.T) {
	x, y := syntheticRows(250, 3, 2)
	parts, err := Split(x, y, SplitOptions{TestFraction: 0.3, ValidationFraction: 0.25, Seed: 9})
	require.NoError(t, err)

	seen := make(map[int]string)
	for name, p := range map[string]Partition{"train": parts.Train, "validation": parts.Validation, "test": parts.Test} {
		require.Len(t, p.X, p.Len())
		require.Len(t, p.Index, p.Len())
		for i, row := range p.Index {
			if prev, dup := seen[row]; dup {
				t.Fatalf("row %d in both %s and %s", row, prev, name)
			}
			seen[row] = name
			assert.Equal(t, y[row], p.Y[i])
			assert.Equal(t, x[row], p.X[i])
		}
	}
	assert.Len(t, seen, len(y))
}

func TestSplitIsSeeded(t *testing.T) {
	x, y := syntheticRows(100, 2, 3)
	a, err := Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2, Seed: 5})
	require.NoError(t, err)
	b, err := Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2, Seed: 5})
	require.NoError(t, err)
	c, err := Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2, Seed: 6})
	require.NoError(t, err)

	assert.Equal(t, a.Test.Index, b.Test.Index)
	assert.NotEqual(t, a.Test.Index, c.Test.Index)
}

func TestSplitRejectsDegenerateInput(t *testing.T) {
	x, y := syntheticRows(2, 2, 4)
	_, err := Split(x, y, SplitOptions{TestFraction: 0.5, ValidationFraction: 0.5, Seed: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))

	_, err = Split(x, y[:1], SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2})
	assert.True(t, errors.Is(err, ErrShape))

	_, err = Split(x, y, SplitOptions{TestFraction: 1.2})
	assert.Error(t, err)
}

func TestSplitRequiresEveryPartition(t *testing.T) {
	x, y := syntheticRows(100, 2, 6)
	_, err := Split(x, y, SplitOptions{TestFraction: 0, ValidationFraction: 0.2})
	assert.ErrorContains(t, err, "test fraction")

	_, err = Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0})
	assert.ErrorContains(t, err, "validation fraction")
}

func TestStandardizerFitsTrainingOnly(t *testing.T) {
	x, y := syntheticRows(400, 4, 5)
	parts, err := Split(x, y, SplitOptions{TestFraction: 0.2, ValidationFraction: 0.2, Seed: 42})
	require.NoError(t, err)

	scaler, err := FitStandardizer(parts.Train.X, []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	train, err := scaler.TransformPartition(parts.Train)
	require.NoError(t, err)
	for j := 0; j < scaler.Width(); j++ {
		mean, std := columnStats(train.X, j)
		assert.InDelta(t, 0, mean, 1e-9, "feature %d mean", j)
		assert.InDelta(t, 1, std, 1e-9, "feature %d std", j)
	}

	before := append([]float64(nil), scaler.Mean...)
	outlier := Partition{X: [][]float64{{1e6, -1e6, 1e6, -1e6}}, Y: []float64{0}, Index: []int{0}}
	_, err = scaler.TransformPartition(outlier)
	require.NoError(t, err)
	assert.Equal(t, before, scaler.Mean, "transform must not refit")
}

func TestStandardizerConstantColumn(t *testing.T) {
	scaler, err := FitStandardizer([][]float64{{3, 1}, {3, 2}, {3, 3}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, scaler.Std[0])

	out, err := scaler.Transform([][]float64{{3, 2}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0][0])
	assert.Equal(t, 0.0, out[0][1])
}

func TestStandardizerWidthMismatch(t *testing.T) {
	scaler, err := FitStandardizer([][]float64{{1, 2}, {3, 4}}, nil)
	require.NoError(t, err)
	_, err = scaler.Transform([][]float64{{1, 2, 3}})
	assert.True(t, errors.Is(err, ErrShape))

	_, err = FitStandardizer(nil, nil)
	assert.True(t, errors.Is(err, ErrShape))
}

func syntheticRows(n, width int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.NormFloat64()*float64(j+1) + float64(10*j)
		}
		x[i] = row
		y[i] = float64(i)
	}
	return x, y
}

func columnStats(x [][]float64, j int) (mean, std float64) {
	for _, row := range x {
		mean += row[j]
	}
	mean /= float64(len(x))
	for _, row := range x {
		d := row[j] - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(x)))
}
