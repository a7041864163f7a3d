package game

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

func TestValidateDistribution(t *testing.T) {
	is := is.New(t)
	is.NoErr(ValidateDistribution([]float64{0.25, 0.75}, 2))
	is.NoErr(ValidateDistribution([]float64{1, 0, 0}, 3))

	is.True(errors.Is(ValidateDistribution(nil, 2), ErrEmptyDistribution))
	is.True(errors.Is(ValidateDistribution([]float64{1}, 2), ErrActionSpaceMismatch))
	is.True(errors.Is(ValidateDistribution([]float64{1.5, -0.5}, 2), ErrNegativeMass))
	is.True(errors.Is(ValidateDistribution([]float64{0.5, 0.4}, 2), ErrNotNormalized))
}

func TestBoardBytesRoundTrip(t *testing.T) {
	is := is.New(t)
	b := Board{-1, 0, 1, 1, -1}
	is.Equal(BoardFromBytes(b.Bytes()), b)
	c := b.Clone()
	c[0] = 1
	is.Equal(b[0], int8(-1))
	is.True(!b.Equal(c))
}

func TestPlayerOther(t *testing.T) {
	is := is.New(t)
	is.Equal(Player1.Other(), Player2)
	is.Equal(Player2.Other(), Player1)
	is.Equal(Player1.String(), "p1")
}
