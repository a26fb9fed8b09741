package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Sampler yields shuffled minibatch index sets over a partition, one epoch at
// a time. The order is fully determined by the seed.
type Sampler struct {
	n         int
	batchSize int
	rng       *rand.Rand
}

// NewSampler constructs a sampler over n rows.
func NewSampler(n, batchSize int, seed int64) (*Sampler, error) {
	if n <= 0 {
		return nil, errors.New("sampler: no rows to sample")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("sampler: batch size must be > 0 (got %d)", batchSize)
	}
	return &Sampler{n: n, batchSize: batchSize, rng: rand.New(rand.NewSource(seed))}, nil
}

// Epoch returns the next epoch's batches. The final batch may be short.
func (s *Sampler) Epoch() [][]int {
	return BatchOrder(s.n, s.batchSize, s.rng)
}

// BatchOrder chunks a permutation of [0, n) into batches of batchSize. A nil
// rng keeps the natural order, which is what validation passes use.
func BatchOrder(n, batchSize int, rng *rand.Rand) [][]int {
	if n <= 0 || batchSize <= 0 {
		return nil
	}
	var order []int
	if rng != nil {
		order = rng.Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	batches := make([][]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		batches = append(batches, order[start:end])
	}
	return batches
}
