// Package report renders the diagnostic plots of a training run as PNG files.
package report

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// File names written by WriteAll.
const (
	LossCurveFile      = "loss_curve.png"
	PredVsActualFile   = "pred_vs_actual.png"
	ErrorHistogramFile = "error_histogram.png"
)

const (
	width  = 6 * vg.Inch
	height = 4 * vg.Inch
)

// Inputs is everything WriteAll needs from a finished run.
type Inputs struct {
	TrainLoss      []float64
	ValidationLoss []float64
	Predicted      []float64
	Actual         []float64
	Residuals      []float64
	Bins           int
}

// WriteAll renders the three diagnostic plots into dir and returns their paths.
func WriteAll(dir string, in Inputs) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "report: create plots dir")
	}
	paths := []string{
		filepath.Join(dir, LossCurveFile),
		filepath.Join(dir, PredVsActualFile),
		filepath.Join(dir, ErrorHistogramFile),
	}
	if err := LossCurve(paths[0], in.TrainLoss, in.ValidationLoss); err != nil {
		return nil, err
	}
	if err := PredictedVsActual(paths[1], in.Predicted, in.Actual); err != nil {
		return nil, err
	}
	if err := ErrorHistogram(paths[2], in.Residuals, in.Bins); err != nil {
		return nil, err
	}
	return paths, nil
}

// LossCurve plots per-epoch train and validation loss.
func LossCurve(path string, train, validation []float64) error {
	if len(train) == 0 {
		return errors.New("report: empty loss history")
	}
	p := plot.New()
	p.Title.Text = "Training and validation loss"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "MSE"
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLinePoints(p, "train", epochSeries(train), "validation", epochSeries(validation)); err != nil {
		return errors.Wrap(err, "report: loss curve")
	}
	return save(p, path)
}

// PredictedVsActual scatters predictions against targets with the y = x line.
func PredictedVsActual(path string, predicted, actual []float64) error {
	if len(predicted) != len(actual) || len(actual) == 0 {
		return errors.Errorf("report: %d predictions vs %d targets", len(predicted), len(actual))
	}
	pts := make(plotter.XYs, len(actual))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range actual {
		pts[i].X = actual[i]
		pts[i].Y = predicted[i]
		lo = math.Min(lo, math.Min(actual[i], predicted[i]))
		hi = math.Max(hi, math.Max(actual[i], predicted[i]))
	}

	p := plot.New()
	p.Title.Text = "Predicted vs actual"
	p.X.Label.Text = "Actual"
	p.Y.Label.Text = "Predicted"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "report: scatter")
	}
	ideal, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "report: ideal line")
	}
	ideal.Color = plotutil.Color(1)
	ideal.Dashes = plotutil.Dashes(1)
	p.Add(scatter, ideal)
	p.Legend.Add("samples", scatter)
	p.Legend.Add("ideal", ideal)
	return save(p, path)
}

// ErrorHistogram bins residuals (prediction minus target).
func ErrorHistogram(path string, residuals []float64, bins int) error {
	if len(residuals) == 0 {
		return errors.New("report: no residuals")
	}
	if bins <= 0 {
		bins = 30
	}
	p := plot.New()
	p.Title.Text = "Prediction error"
	p.X.Label.Text = "Predicted - actual"
	p.Y.Label.Text = "Count"

	h, err := plotter.NewHist(plotter.Values(residuals), bins)
	if err != nil {
		return errors.Wrap(err, "report: histogram")
	}
	p.Add(h)
	return save(p, path)
}

func epochSeries(v []float64) plotter.XYs {
	pts := make(plotter.XYs, len(v))
	for i, y := range v {
		pts[i].X = float64(i + 1)
		pts[i].Y = y
	}
	return pts
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(width, height, path); err != nil {
		return errors.Wrapf(err, "report: save %s", path)
	}
	return nil
}
