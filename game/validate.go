package game

import (
	"errors"
	"fmt"
	"math"
)

// DistributionTolerance is how far the total mass of a distribution may
// stray from 1.
const DistributionTolerance = 1e-6

var (
	ErrEmptyDistribution   = errors.New("empty action distribution")
	ErrActionSpaceMismatch = errors.New("action distribution does not match action space")
	ErrNegativeMass        = errors.New("action distribution has negative or non-finite mass")
	ErrNotNormalized       = errors.New("action distribution does not sum to 1")
)

// ValidateDistribution checks that pi is a probability distribution over an
// action space of the given size. It never repairs pi.
func ValidateDistribution(pi []float64, actionSize int) error {
	if len(pi) == 0 {
		return ErrEmptyDistribution
	}
	if len(pi) != actionSize {
		return fmt.Errorf("%w: got %d entries, want %d", ErrActionSpaceMismatch, len(pi), actionSize)
	}
	sum := 0.0
	for i, p := range pi {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: pi[%d] = %v", ErrNegativeMass, i, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > DistributionTolerance {
		return fmt.Errorf("%w: sum = %v", ErrNotNormalized, sum)
	}
	return nil
}
