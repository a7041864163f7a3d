package replay

import (
	"errors"
	"fmt"
)

var ErrInvalidDepth = errors.New("history depth must be positive")

// History is a bounded window over the most recent generations, oldest
// first. It is a value type: Append returns a new History and never changes
// the one it was given.
type History struct {
	depth int
	gens  [][]Example
}

// NewHistory returns an empty history retaining at most depth generations.
func NewHistory(depth int) (History, error) {
	if depth <= 0 {
		return History{}, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	return History{depth: depth, gens: [][]Example{}}, nil
}

// HistoryFromGenerations rebuilds a history, keeping only the newest depth
// generations.
func HistoryFromGenerations(depth int, gens [][]Example) (History, error) {
	h, err := NewHistory(depth)
	if err != nil {
		return h, err
	}
	for _, g := range gens {
		h = appendGeneration(h, g)
	}
	return h, nil
}

// Append adds a snapshot of buf as the newest generation. If that takes the
// history past its depth, exactly the oldest generation is dropped.
func Append(h History, buf *Buffer) History {
	return appendGeneration(h, buf.Examples())
}

func appendGeneration(h History, gen []Example) History {
	frozen := make([]Example, len(gen))
	copy(frozen, gen)

	gens := make([][]Example, 0, len(h.gens)+1)
	gens = append(gens, h.gens...)
	gens = append(gens, frozen)
	if len(gens) > h.depth {
		gens = gens[len(gens)-h.depth:]
	}
	return History{depth: h.depth, gens: gens}
}

func (h History) Depth() int { return h.depth }

// Len is the number of generations held.
func (h History) Len() int { return len(h.gens) }

// Full reports whether the next Append will drop a generation.
func (h History) Full() bool { return len(h.gens) >= h.depth }

// Generations returns the generations oldest first. The inner slices are
// shared and must not be modified.
func (h History) Generations() [][]Example {
	out := make([][]Example, len(h.gens))
	copy(out, h.gens)
	return out
}

// TotalExamples counts examples across all generations.
func (h History) TotalExamples() int {
	n := 0
	for _, g := range h.gens {
		n += len(g)
	}
	return n
}
