// Package replay holds the experience gathered by self-play: a bounded
// buffer of labeled examples per generation, and a bounded history of those
// buffers across generations. Both levels evict oldest-first.
package replay

import (
	"math/rand/v2"

	"github.com/samber/lo"

	"github.com/domino14/zerocoach/game"
)

// Example is one labeled training example.
type Example struct {
	// Board is the canonical position.
	Board game.Board
	// Pi is the visit distribution produced by the tree search.
	Pi []float64
	// Value is the final game result from the perspective of the player
	// to move in Board: -1, 0 or +1.
	Value float64
}

// Clone returns a deep copy of the example.
func (e Example) Clone() Example {
	pi := make([]float64, len(e.Pi))
	copy(pi, e.Pi)
	return Example{Board: e.Board.Clone(), Pi: pi, Value: e.Value}
}

// Flatten concatenates every generation in the history, oldest first.
func Flatten(h History) []Example {
	return lo.Flatten(h.gens)
}

// Shuffle permutes examples uniformly at random in place.
func Shuffle(examples []Example, rng *rand.Rand) {
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})
}

// TrainingSet flattens the history and shuffles the result. Examples within
// a generation are temporally correlated, so callers must not skip the
// shuffle.
func TrainingSet(h History, rng *rand.Rand) []Example {
	examples := Flatten(h)
	Shuffle(examples, rng)
	return examples
}

// EstimateBytes roughly sizes n examples in memory.
func EstimateBytes(n, boardLen, actionSize int) uint64 {
	const sliceHeaders = 2 * 24
	per := boardLen + 8*actionSize + 8 + sliceHeaders
	return uint64(n) * uint64(per)
}
