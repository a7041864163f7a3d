package replay

import (
	"errors"
	"fmt"
)

var ErrInvalidCapacity = errors.New("capacity must be positive")

// Buffer is a bounded, insertion-ordered collection of examples for one
// generation. When full, each Add evicts the oldest example.
type Buffer struct {
	items    []Example
	start    int
	capacity int
	evicted  int
}

// NewBuffer creates a buffer holding at most capacity examples.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer{capacity: capacity}, nil
}

// Add appends examples, evicting from the front once capacity is reached.
func (b *Buffer) Add(examples ...Example) {
	for _, ex := range examples {
		if len(b.items) < b.capacity {
			b.items = append(b.items, ex)
			continue
		}
		b.items[b.start] = ex
		b.start = (b.start + 1) % b.capacity
		b.evicted++
	}
}

func (b *Buffer) Len() int { return len(b.items) }

func (b *Buffer) Cap() int { return b.capacity }

// Evicted is how many examples have been pushed out so far.
func (b *Buffer) Evicted() int { return b.evicted }

// Examples returns a copy of the contents, oldest first.
func (b *Buffer) Examples() []Example {
	out := make([]Example, 0, len(b.items))
	out = append(out, b.items[b.start:]...)
	out = append(out, b.items[:b.start]...)
	return out
}
