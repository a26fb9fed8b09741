package metrics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrZeroVariance is returned alongside the other metrics when the targets are
// constant, which leaves R² undefined.
var ErrZeroVariance = errors.New("metrics: target variance is zero, R² undefined")

// Predictor produces one prediction per feature row.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// Regression holds held-out metrics for a regressor.
type Regression struct {
	N         int
	MSE       float64
	RMSE      float64
	R2        float64
	R2Defined bool
	// Residuals are prediction minus target, aligned with Predictions.
	Predictions []float64
	Residuals   []float64
}

// Evaluate predicts x and scores the predictions against y.
func Evaluate(p Predictor, x [][]float64, y []float64) (Regression, error) {
	if len(x) != len(y) {
		return Regression{}, errors.Errorf("metrics: %d rows vs %d targets", len(x), len(y))
	}
	pred, err := p.Predict(x)
	if err != nil {
		return Regression{}, errors.Wrap(err, "predict")
	}
	return Score(pred, y)
}

// Baseline scores a constant predictor, normally the training-target mean.
func Baseline(constant float64, y []float64) (Regression, error) {
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = constant
	}
	return Score(pred, y)
}

// Score computes MSE, RMSE and R². When the targets have zero variance the
// result is still returned, with R2 set to NaN, together with ErrZeroVariance.
func Score(pred, y []float64) (Regression, error) {
	if len(pred) != len(y) {
		return Regression{}, errors.Errorf("metrics: %d predictions vs %d targets", len(pred), len(y))
	}
	if len(y) == 0 {
		return Regression{}, errors.New("metrics: nothing to score")
	}

	res := make([]float64, len(y))
	floats.SubTo(res, pred, y)
	mse := floats.Dot(res, res) / float64(len(y))

	out := Regression{
		N:           len(y),
		MSE:         mse,
		RMSE:        math.Sqrt(mse),
		R2:          math.NaN(),
		Predictions: append([]float64(nil), pred...),
		Residuals:   res,
	}

	mean := stat.Mean(y, nil)
	var ssTot float64
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return out, ErrZeroVariance
	}
	out.R2 = stat.RSquaredFrom(pred, y, nil)
	out.R2Defined = true
	return out, nil
}
