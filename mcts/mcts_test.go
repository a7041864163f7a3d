package mcts

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/matryer/is"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/game/tictactoe"
	"github.com/domino14/zerocoach/nnet"
)

// flatPredictor knows nothing: uniform prior, even value.
type flatPredictor struct {
	size  int
	calls int
}

func (f *flatPredictor) Predict(context.Context, game.Board) (nnet.Prediction, error) {
	f.calls++
	pi := make([]float64, f.size)
	for i := range pi {
		pi[i] = 1 / float64(f.size)
	}
	return nnet.Prediction{Policy: pi}, nil
}

// invalidOnly puts all of its mass on cell 0.
type invalidOnly struct{}

func (invalidOnly) Predict(context.Context, game.Board) (nnet.Prediction, error) {
	pi := make([]float64, 9)
	pi[0] = 1
	return nnet.Prediction{Policy: pi}, nil
}

type brokenPredictor struct{ err error }

func (b brokenPredictor) Predict(context.Context, game.Board) (nnet.Prediction, error) {
	return nnet.Prediction{}, b.err
}

func TestProbsAreMaskedAndNormalized(t *testing.T) {
	is := is.New(t)
	rules := tictactoe.Classic()
	board := game.Board{1, -1, 0, 0, 1, 0, 0, 0, -1}
	m := New(rules, &flatPredictor{size: 9}, Params{NumSims: 50, Cpuct: 1, DirichletAlpha: 0.3, DirichletWeight: 0.25},
		rand.New(rand.NewPCG(1, 1)))
	probs, err := m.ActionProbs(context.Background(), board, 1)
	is.NoErr(err)
	assert.InDelta(t, 1.0, lo.Sum(probs), 1e-9)
	valid := rules.ValidMoves(board, game.Player1)
	for a, p := range probs {
		if !valid[a] {
			is.Equal(p, 0.0)
		}
	}
}

func TestGreedyFindsImmediateWin(t *testing.T) {
	is := is.New(t)
	rules := tictactoe.Classic()
	// Player to move completes the top row at cell 2.
	board := game.Board{1, 1, 0, -1, -1, 0, 0, 0, 0}
	m := New(rules, &flatPredictor{size: 9}, Params{NumSims: 200, Cpuct: 1}, rand.New(rand.NewPCG(2, 2)))
	probs, err := m.ActionProbs(context.Background(), board, 0)
	is.NoErr(err)
	is.Equal(probs[2], 1.0)
	is.Equal(lo.Sum(probs), 1.0)
}

func TestAllMassOnInvalidMoves(t *testing.T) {
	is := is.New(t)
	rules := tictactoe.Classic()
	board := game.Board{1, 0, 0, 0, -1, 0, 0, 0, 0}
	m := New(rules, invalidOnly{}, Params{NumSims: 20, Cpuct: 1}, rand.New(rand.NewPCG(3, 3)))
	probs, err := m.ActionProbs(context.Background(), board, 1)
	is.NoErr(err)
	is.Equal(probs[0], 0.0)
	is.Equal(probs[4], 0.0)
	assert.InDelta(t, 1.0, lo.Sum(probs), 1e-9)
}

func TestTreeIsReused(t *testing.T) {
	is := is.New(t)
	rules := tictactoe.Classic()
	p := &flatPredictor{size: 9}
	m := New(rules, p, Params{NumSims: 30, Cpuct: 1}, rand.New(rand.NewPCG(4, 4)))
	board := rules.InitialBoard()
	_, err := m.ActionProbs(context.Background(), board, 1)
	is.NoErr(err)
	first := p.calls
	is.True(first > 0)
	is.True(first <= 31)
	_, err = m.ActionProbs(context.Background(), board, 1)
	is.NoErr(err)
	// The root is already expanded; each simulation adds at most one node.
	is.True(p.calls-first <= 30)
}

func TestPredictorErrorsPropagate(t *testing.T) {
	is := is.New(t)
	boom := errors.New("boom")
	m := New(tictactoe.Classic(), brokenPredictor{err: boom}, Params{NumSims: 5, Cpuct: 1}, rand.New(rand.NewPCG(5, 5)))
	_, err := m.ActionProbs(context.Background(), tictactoe.Classic().InitialBoard(), 1)
	is.True(errors.Is(err, boom))
}

func TestBadPolicyLength(t *testing.T) {
	is := is.New(t)
	m := New(tictactoe.Classic(), &flatPredictor{size: 4}, Params{NumSims: 5, Cpuct: 1}, rand.New(rand.NewPCG(6, 6)))
	_, err := m.ActionProbs(context.Background(), tictactoe.Classic().InitialBoard(), 1)
	is.True(errors.Is(err, nnet.ErrBadPrediction))
}
