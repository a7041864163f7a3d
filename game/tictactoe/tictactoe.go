// Package tictactoe implements game.Rules for m,n,k-style games on a square
// board: an n x n grid where k in a row wins. The default is classic 3x3.
package tictactoe

import (
	"fmt"
	"strings"

	"github.com/domino14/zerocoach/game"
)

const (
	empty = 0
)

// Game is a square k-in-a-row game.
type Game struct {
	n int
	k int
	// transforms[t][i] is where cell i lands under symmetry t.
	transforms [][]int
}

// New returns an n x n game won by k in a row.
func New(n, k int) (*Game, error) {
	if n < 1 {
		return nil, fmt.Errorf("board size must be positive, got %d", n)
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("win length must be in [1, %d], got %d", n, k)
	}
	g := &Game{n: n, k: k}
	g.transforms = g.buildTransforms()
	return g, nil
}

// Classic is the 3x3 game.
func Classic() *Game {
	g, _ := New(3, 3)
	return g
}

func (g *Game) Size() int { return g.n }

func (g *Game) InitialBoard() game.Board {
	return make(game.Board, g.n*g.n)
}

func (g *Game) ActionSize() int {
	return g.n * g.n
}

func (g *Game) CanonicalForm(b game.Board, p game.Player) game.Board {
	c := make(game.Board, len(b))
	for i, v := range b {
		c[i] = v * int8(p)
	}
	return c
}

func (g *Game) ValidMoves(b game.Board, p game.Player) []bool {
	valid := make([]bool, len(b))
	for i, v := range b {
		valid[i] = v == empty
	}
	return valid
}

func (g *Game) NextState(b game.Board, p game.Player, action int) (game.Board, game.Player) {
	nb := b.Clone()
	nb[action] = int8(p)
	return nb, p.Other()
}

func (g *Game) TerminalResult(b game.Board, p game.Player) (float64, bool) {
	if g.hasLine(b, int8(p)) {
		return 1, true
	}
	if g.hasLine(b, int8(p.Other())) {
		return -1, true
	}
	for _, v := range b {
		if v == empty {
			return 0, false
		}
	}
	return 0, true
}

var directions = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

func (g *Game) hasLine(b game.Board, who int8) bool {
	for r := 0; r < g.n; r++ {
		for c := 0; c < g.n; c++ {
			if b[r*g.n+c] != who {
				continue
			}
			for _, d := range directions {
				count := 1
				rr, cc := r+d[0], c+d[1]
				for rr >= 0 && rr < g.n && cc >= 0 && cc < g.n && b[rr*g.n+cc] == who {
					count++
					if count >= g.k {
						return true
					}
					rr += d[0]
					cc += d[1]
				}
				if count >= g.k {
					return true
				}
			}
		}
	}
	return false
}

// Symmetries returns the eight dihedral images of (b, pi), identity first.
func (g *Game) Symmetries(b game.Board, pi []float64) []game.Symmetry {
	syms := make([]game.Symmetry, 0, len(g.transforms))
	for _, t := range g.transforms {
		nb := make(game.Board, len(b))
		npi := make([]float64, len(pi))
		for src, dst := range t {
			nb[dst] = b[src]
			npi[dst] = pi[src]
		}
		syms = append(syms, game.Symmetry{Board: nb, Pi: npi})
	}
	return syms
}

func (g *Game) buildTransforms() [][]int {
	n := g.n
	rotate := func(r, c int) (int, int) { return c, n - 1 - r }
	flip := func(r, c int) (int, int) { return r, n - 1 - c }

	var ts [][]int
	for rot := 0; rot < 4; rot++ {
		for _, doFlip := range []bool{false, true} {
			t := make([]int, n*n)
			for r := 0; r < n; r++ {
				for c := 0; c < n; c++ {
					rr, cc := r, c
					for i := 0; i < rot; i++ {
						rr, cc = rotate(rr, cc)
					}
					if doFlip {
						rr, cc = flip(rr, cc)
					}
					t[r*n+c] = rr*n + cc
				}
			}
			ts = append(ts, t)
		}
	}
	return ts
}

func (g *Game) Display(b game.Board) string {
	var sb strings.Builder
	for r := 0; r < g.n; r++ {
		for c := 0; c < g.n; c++ {
			switch b[r*g.n+c] {
			case int8(game.Player1):
				sb.WriteByte('X')
			case int8(game.Player2):
				sb.WriteByte('O')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
