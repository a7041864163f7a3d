package selfplay

import (
	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

type pending struct {
	board game.Board
	mover game.Player
	pi    []float64
}

// Trajectory is the append-only log of one game in progress. Records carry
// no value until Resolve labels all of them at once.
type Trajectory struct {
	records []pending
	plies   int
}

// Append logs one ply: every symmetric variant of the position, each tagged
// with the player who moved.
func (t *Trajectory) Append(mover game.Player, syms []game.Symmetry) {
	for _, s := range syms {
		pi := make([]float64, len(s.Pi))
		copy(pi, s.Pi)
		t.records = append(t.records, pending{board: s.Board.Clone(), mover: mover, pi: pi})
	}
	t.plies++
}

// Len is the number of records, symmetries included.
func (t *Trajectory) Len() int { return len(t.records) }

func (t *Trajectory) Plies() int { return t.plies }

// Resolve labels every record with the terminal result. result is from the
// perspective of terminalMover; records of the other player get -result.
func (t *Trajectory) Resolve(result float64, terminalMover game.Player) []replay.Example {
	out := make([]replay.Example, len(t.records))
	for i, r := range t.records {
		v := result
		if r.mover != terminalMover {
			v = -result
		}
		out[i] = replay.Example{Board: r.board, Pi: r.pi, Value: v}
	}
	return out
}
