package tictactoe

import (
	"testing"

	"github.com/matryer/is"

	"github.com/domino14/zerocoach/game"
)

func play(g *Game, moves ...int) (game.Board, game.Player) {
	b := g.InitialBoard()
	p := game.Player1
	for _, m := range moves {
		b, p = g.NextState(b, p, m)
	}
	return b, p
}

func TestNewRejectsBadSizes(t *testing.T) {
	is := is.New(t)
	_, err := New(0, 1)
	is.True(err != nil)
	_, err = New(3, 4)
	is.True(err != nil)
}

func TestRowWin(t *testing.T) {
	is := is.New(t)
	g := Classic()
	// X: 0 1 2, O: 3 4
	b, p := play(g, 0, 3, 1, 4, 2)
	is.Equal(p, game.Player2)
	r, ended := g.TerminalResult(b, p)
	is.True(ended)
	is.Equal(r, -1.0)
	r, ended = g.TerminalResult(b, game.Player1)
	is.True(ended)
	is.Equal(r, 1.0)
}

func TestDiagonalWin(t *testing.T) {
	is := is.New(t)
	g := Classic()
	b, p := play(g, 2, 0, 4, 1, 6)
	r, ended := g.TerminalResult(b, p)
	is.True(ended)
	is.Equal(r, -1.0)
}

func TestDraw(t *testing.T) {
	is := is.New(t)
	g := Classic()
	// X O X / X O O / O X X
	b, p := play(g, 0, 1, 2, 4, 3, 5, 7, 6, 8)
	r, ended := g.TerminalResult(b, p)
	is.True(ended)
	is.Equal(r, 0.0)
}

func TestNotEnded(t *testing.T) {
	is := is.New(t)
	g := Classic()
	b, p := play(g, 4)
	_, ended := g.TerminalResult(b, p)
	is.True(!ended)
	valid := g.ValidMoves(b, p)
	is.True(!valid[4])
	is.True(valid[0])
}

func TestCanonicalForm(t *testing.T) {
	is := is.New(t)
	g := Classic()
	b, _ := play(g, 0, 8)
	c := g.CanonicalForm(b, game.Player2)
	is.Equal(c[0], int8(-1))
	is.Equal(c[8], int8(1))
	is.Equal(g.CanonicalForm(b, game.Player1), b)
}

func TestSymmetries(t *testing.T) {
	is := is.New(t)
	g := Classic()
	b, _ := play(g, 0)
	pi := []float64{0, 1, 0, 0, 0, 0, 0, 0, 0}
	syms := g.Symmetries(b, pi)
	is.Equal(len(syms), 8)
	is.Equal(syms[0].Board, b) // identity first
	is.Equal(syms[0].Pi, pi)

	corners := map[int]bool{}
	for _, s := range syms {
		// The stone always lands on a corner and the edge move on an edge.
		for i, v := range s.Board {
			if v != 0 {
				corners[i] = true
			}
		}
		sum := 0.0
		for i, p := range s.Pi {
			sum += p
			if p == 1 {
				is.True(i == 1 || i == 3 || i == 5 || i == 7)
			}
		}
		is.Equal(sum, 1.0)
	}
	is.Equal(len(corners), 4)
	for c := range corners {
		is.True(c == 0 || c == 2 || c == 6 || c == 8)
	}
}

func TestLargerBoard(t *testing.T) {
	is := is.New(t)
	g, err := New(5, 4)
	is.NoErr(err)
	is.Equal(g.ActionSize(), 25)
	b, p := play(g, 0, 5, 1, 6, 2, 7, 3)
	r, ended := g.TerminalResult(b, p)
	is.True(ended)
	is.Equal(r, -1.0)
	is.Equal(len(g.Symmetries(b, make([]float64, 25))), 8)
}
