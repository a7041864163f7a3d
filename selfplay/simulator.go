// Package selfplay plays games of a model against itself and turns them
// into labeled training examples.
package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/replay"
)

var (
	ErrIllegalAction = errors.New("sampled action is illegal")
	ErrGameTooLong   = errors.New("game exceeded the ply limit")
)

// TreeSearch produces an action distribution for a canonical position.
// temp 0 asks for a greedy (one-hot) distribution.
type TreeSearch interface {
	ActionProbs(ctx context.Context, canonical game.Board, temp float64) ([]float64, error)
}

// SearchFactory builds a fresh search for each trajectory. Searches keep
// per-game state and are never shared.
type SearchFactory func(rules game.Rules, p nnet.Predictor, rng *rand.Rand) TreeSearch

// Result is one finished trajectory.
type Result struct {
	Examples []replay.Example
	Plies    int
	// Result is the terminal result from the first player's perspective.
	Result float64
	// Winner is 0 for a draw.
	Winner game.Player
}

type Simulator struct {
	rules         game.Rules
	search        TreeSearch
	rng           *rand.Rand
	tempThreshold int
	// MaxPlies aborts a runaway game when positive.
	MaxPlies int
}

func NewSimulator(rules game.Rules, search TreeSearch, rng *rand.Rand, tempThreshold int) *Simulator {
	return &Simulator{rules: rules, search: search, rng: rng, tempThreshold: tempThreshold}
}

// Run plays one game from the initial position to the end.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	board := s.rules.InitialBoard()
	cur := game.Player1
	traj := &Trajectory{}
	actionSize := s.rules.ActionSize()
	step := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step++
		if s.MaxPlies > 0 && step > s.MaxPlies {
			return nil, fmt.Errorf("%w: %d", ErrGameTooLong, s.MaxPlies)
		}
		canonical := s.rules.CanonicalForm(board, cur)
		temp := 0.0
		if step < s.tempThreshold {
			temp = 1
		}
		pi, err := s.search.ActionProbs(ctx, canonical, temp)
		if err != nil {
			return nil, fmt.Errorf("search at ply %d: %w", step, err)
		}
		if err := game.ValidateDistribution(pi, actionSize); err != nil {
			return nil, fmt.Errorf("search at ply %d: %w", step, err)
		}
		traj.Append(cur, s.rules.Symmetries(canonical, pi))

		action := int(distuv.NewCategorical(pi, s.rng).Rand())
		if valid := s.rules.ValidMoves(board, cur); action >= len(valid) || !valid[action] {
			return nil, fmt.Errorf("%w: action %d at ply %d", ErrIllegalAction, action, step)
		}
		board, cur = s.rules.NextState(board, cur, action)

		result, ended := s.rules.TerminalResult(board, cur)
		if !ended {
			continue
		}
		res := &Result{
			Examples: traj.Resolve(result, cur),
			Plies:    traj.Plies(),
			Result:   result,
		}
		if cur != game.Player1 {
			res.Result = -result
		}
		switch {
		case res.Result > 0:
			res.Winner = game.Player1
		case res.Result < 0:
			res.Winner = game.Player2
		}
		if e := log.Debug(); e.Enabled() {
			e.Int("plies", res.Plies).Float64("result", res.Result).
				Msgf("trajectory-finished\n%s", s.rules.Display(board))
		}
		return res, nil
	}
}
