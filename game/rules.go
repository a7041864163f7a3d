// Package game defines the contract between the self-play core and the rules
// of a two-player, zero-sum, perfect-information board game. The core never
// looks inside a Board; everything it needs to know about a position comes
// through Rules.
package game

// Symmetry is one symmetric transform of a position, paired with the
// correspondingly transformed action distribution.
type Symmetry struct {
	Board Board
	Pi    []float64
}

// Rules is implemented by a concrete game. Implementations must be safe for
// concurrent use by many simulators; they should treat every Board they are
// handed as read-only and return fresh boards.
type Rules interface {
	// InitialBoard returns the starting position. Player1 moves first.
	InitialBoard() Board
	// CanonicalForm returns the board as seen by p. For most games this
	// flips piece ownership when p is Player2.
	CanonicalForm(b Board, p Player) Board
	// ActionSize is the fixed size of the action space.
	ActionSize() int
	// ValidMoves returns an ActionSize()-long mask of legal actions for p.
	ValidMoves(b Board, p Player) []bool
	// Symmetries returns every symmetric (board, pi) pair, identity included.
	Symmetries(b Board, pi []float64) []Symmetry
	// NextState applies action for p and returns the new board and the
	// player to move.
	NextState(b Board, p Player, action int) (Board, Player)
	// TerminalResult reports whether the game is over and, if so, the
	// result from p's perspective: 1 for a win, -1 for a loss, 0 for a draw.
	TerminalResult(b Board, p Player) (result float64, ended bool)
	// Display renders a board for debug output.
	Display(b Board) string
}
