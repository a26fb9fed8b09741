package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAllProducesPNGs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	paths, err := WriteAll(dir, Inputs{
		TrainLoss:      []float64{3.1, 1.2, 0.7, 0.5},
		ValidationLoss: []float64{2.9, 1.4, 0.8, 0.6},
		Predicted:      []float64{5.1, 5.9, 6.2, 4.8},
		Actual:         []float64{5, 6, 6, 5},
		Residuals:      []float64{0.1, -0.1, 0.2, -0.2},
		Bins:           5,
	})
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Greater(t, len(data), 8)
		assert.Equal(t, "\x89PNG", string(data[:4]), "%s is not a PNG", p)
	}
}

func TestLossCurveRejectsNaN(t *testing.T) {
	err := LossCurve(filepath.Join(t.TempDir(), "loss.png"), []float64{1, math.NaN()}, []float64{1, 1})
	assert.Error(t, err)
}

func TestPredictedVsActualRejectsMismatch(t *testing.T) {
	err := PredictedVsActual(filepath.Join(t.TempDir(), "scatter.png"), []float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestErrorHistogramRejectsEmpty(t *testing.T) {
	err := ErrorHistogram(filepath.Join(t.TempDir(), "hist.png"), nil, 10)
	assert.Error(t, err)
}
