package replay

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/zerocoach/game"
)

func ex(v float64) Example {
	return Example{Board: game.Board{int8(v)}, Pi: []float64{1}, Value: v}
}

func values(examples []Example) []float64 {
	out := make([]float64, len(examples))
	for i, e := range examples {
		out[i] = e.Value
	}
	return out
}

func bufferOf(t *testing.T, capacity int, vals ...float64) *Buffer {
	b, err := NewBuffer(capacity)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vals {
		b.Add(ex(v))
	}
	return b
}

func TestBufferRejectsNonPositiveCapacity(t *testing.T) {
	is := is.New(t)
	_, err := NewBuffer(0)
	is.True(errors.Is(err, ErrInvalidCapacity))
}

func TestBufferFIFOEviction(t *testing.T) {
	is := is.New(t)
	b := bufferOf(t, 3, 1, 2)
	is.Equal(values(b.Examples()), []float64{1, 2})
	b.Add(ex(3), ex(4), ex(5))
	is.Equal(b.Len(), 3)
	is.Equal(b.Evicted(), 2)
	is.Equal(values(b.Examples()), []float64{3, 4, 5})
	for i := 6; i < 20; i++ {
		b.Add(ex(float64(i)))
		is.True(b.Len() <= b.Cap())
	}
	is.Equal(values(b.Examples()), []float64{17, 18, 19})
}

func TestHistoryDropsExactlyOldest(t *testing.T) {
	is := is.New(t)
	const depth = 3
	h, err := NewHistory(depth)
	is.NoErr(err)
	for g := 1; g <= depth+1; g++ {
		h = Append(h, bufferOf(t, 10, float64(g)))
		is.True(h.Len() <= depth)
	}
	gens := h.Generations()
	is.Equal(len(gens), depth)
	is.Equal(values(gens[0]), []float64{2})
	is.Equal(values(gens[1]), []float64{3})
	is.Equal(values(gens[2]), []float64{4})
}

func TestAppendIsPure(t *testing.T) {
	is := is.New(t)
	h, _ := NewHistory(1)
	h1 := Append(h, bufferOf(t, 5, 1))
	h2 := Append(h1, bufferOf(t, 5, 2))
	is.Equal(h.Len(), 0)
	is.Equal(values(Flatten(h1)), []float64{1})
	is.Equal(values(Flatten(h2)), []float64{2})

	// Mutating the buffer after Append must not leak into the history.
	buf := bufferOf(t, 5, 7)
	h3 := Append(h, buf)
	buf.Add(ex(8))
	is.Equal(h3.TotalExamples(), 1)
}

func TestFlattenOrderAndShuffle(t *testing.T) {
	is := is.New(t)
	h, _ := NewHistory(4)
	h = Append(h, bufferOf(t, 5, 1, 2))
	h = Append(h, bufferOf(t, 5, 3))
	h = Append(h, bufferOf(t, 5, 4, 5))
	is.Equal(values(Flatten(h)), []float64{1, 2, 3, 4, 5})

	rng := rand.New(rand.NewPCG(1, 2))
	set := TrainingSet(h, rng)
	got := values(set)
	sort.Float64s(got)
	is.Equal(got, []float64{1, 2, 3, 4, 5})
	// The history itself is untouched by the shuffle.
	is.Equal(values(Flatten(h)), []float64{1, 2, 3, 4, 5})
}

func TestShuffleDeterministicWithSeed(t *testing.T) {
	is := is.New(t)
	mk := func() []Example {
		out := []Example{}
		for i := 0; i < 50; i++ {
			out = append(out, ex(float64(i)))
		}
		return out
	}
	a, b := mk(), mk()
	Shuffle(a, rand.New(rand.NewPCG(7, 7)))
	Shuffle(b, rand.New(rand.NewPCG(7, 7)))
	is.Equal(values(a), values(b))
}

func TestWireRoundTrip(t *testing.T) {
	is := is.New(t)
	h, _ := NewHistory(2)
	b1 := bufferOf(t, 5)
	b1.Add(Example{Board: game.Board{1, -1, 0}, Pi: []float64{0.1, 0.2, 0.7}, Value: -1})
	b1.Add(Example{Board: game.Board{0, 0, 0}, Pi: []float64{1, 0, 0}, Value: 0})
	h = Append(h, b1)
	h = Append(h, bufferOf(t, 5))
	h = Append(h, bufferOf(t, 5, 1, -1))

	decoded, err := ParseHistory(AppendHistory(nil, h))
	is.NoErr(err)
	is.Equal(decoded, h)
	is.Equal(decoded.Depth(), 2)

	list := Flatten(h)
	got, err := ParseExamples(AppendExamples(nil, list))
	is.NoErr(err)
	is.Equal(got, list)
}

func TestWireRejectsTruncated(t *testing.T) {
	is := is.New(t)
	h, _ := NewHistory(2)
	h = Append(h, bufferOf(t, 5, 1, 1))
	enc := AppendHistory(nil, h)
	_, err := ParseHistory(enc[:len(enc)-3])
	is.True(errors.Is(err, ErrMalformed))
}

func TestEstimateBytes(t *testing.T) {
	is := is.New(t)
	is.Equal(EstimateBytes(0, 9, 9), uint64(0))
	is.True(EstimateBytes(10, 9, 9) > EstimateBytes(1, 9, 9))
}
