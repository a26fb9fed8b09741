package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Partition is one disjoint slice of the dataset.
type Partition struct {
	X [][]float64
	Y []float64
	// Index holds the original row number of every sample.
	Index []int
}

// Len returns the number of samples in the partition.
func (p Partition) Len() int { return len(p.Y) }

// Partitions groups the train, validation and test splits.
type Partitions struct {
	Train      Partition
	Validation Partition
	Test       Partition
}

// SplitOptions configures Split.
type SplitOptions struct {
	TestFraction       float64
	ValidationFraction float64
	Seed               int64
}

// Split shuffles rows with a seeded source and carves out the test partition,
// then the validation partition from what remains. Held-out sizes are rounded
// up so 1599 rows at 0.2/0.2 give 1023/256/320.
func Split(x [][]float64, y []float64, opts SplitOptions) (Partitions, error) {
	n := len(y)
	if len(x) != n {
		return Partitions{}, errors.Wrapf(ErrShape, "split: %d feature rows vs %d targets", len(x), n)
	}
	if opts.TestFraction <= 0 || opts.TestFraction >= 1 {
		return Partitions{}, errors.Errorf("split: test fraction %g out of range (0, 1)", opts.TestFraction)
	}
	if opts.ValidationFraction <= 0 || opts.ValidationFraction >= 1 {
		return Partitions{}, errors.Errorf("split: validation fraction %g out of range (0, 1)", opts.ValidationFraction)
	}

	nTest := heldOut(n, opts.TestFraction)
	nVal := heldOut(n-nTest, opts.ValidationFraction)
	nTrain := n - nTest - nVal
	if nTrain <= 0 || nTest == 0 || nVal == 0 {
		return Partitions{}, errors.Wrapf(ErrShape, "split: %d rows too few for fractions %g/%g", n, opts.TestFraction, opts.ValidationFraction)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	perm := rng.Perm(n)

	return Partitions{
		Test:       gather(x, y, perm[:nTest]),
		Validation: gather(x, y, perm[nTest:nTest+nVal]),
		Train:      gather(x, y, perm[nTest+nVal:]),
	}, nil
}

func heldOut(n int, fraction float64) int {
	// Guard against 0.2*1600 landing a hair above an integer.
	return int(math.Ceil(float64(n)*fraction - 1e-9))
}

func gather(x [][]float64, y []float64, idx []int) Partition {
	p := Partition{
		X:     make([][]float64, len(idx)),
		Y:     make([]float64, len(idx)),
		Index: append([]int(nil), idx...),
	}
	for i, row := range idx {
		p.X[i] = append([]float64(nil), x[row]...)
		p.Y[i] = y[row]
	}
	return p
}
