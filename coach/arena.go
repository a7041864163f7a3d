package coach

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/selfplay"
	"github.com/domino14/zerocoach/stats"
)

// ArenaResult counts games from the new model's point of view.
type ArenaResult struct {
	PrevWins int
	NewWins  int
	Draws    int
}

// Accept reports whether the new model won at least threshold of the
// decisive games. With no decisive games the new model is rejected.
func (r ArenaResult) Accept(threshold float64) bool {
	decisive := r.PrevWins + r.NewWins
	if decisive == 0 {
		return false
	}
	return float64(r.NewWins)/float64(decisive) >= threshold
}

// Arena pits a freshly trained model against its predecessor.
type Arena struct {
	rules         game.Rules
	factory       selfplay.SearchFactory
	prev          nnet.Handle
	games         int
	threshold     float64
	tempThreshold int
	rng           *rand.Rand
}

// NewArena builds an arena. prev is a separate prediction service that the
// coach loads with the pre-training checkpoint every generation.
func NewArena(rules game.Rules, factory selfplay.SearchFactory, prev nnet.Handle,
	games int, threshold float64, tempThreshold int, rng *rand.Rand) *Arena {

	return &Arena{
		rules:         rules,
		factory:       factory,
		prev:          prev,
		games:         games,
		threshold:     threshold,
		tempThreshold: tempThreshold,
		rng:           rng,
	}
}

// Play runs the arena games, alternating which model moves first.
func (a *Arena) Play(ctx context.Context, cur nnet.SharedPredictor) (ArenaResult, error) {
	releaseCur := cur.Lease()
	defer releaseCur()
	releasePrev := a.prev.Lease()
	defer releasePrev()

	var res ArenaResult
	var winRate stats.Statistic
	for i := 0; i < a.games; i++ {
		newSearch := a.factory(a.rules, cur, a.rng)
		prevSearch := a.factory(a.rules, a.prev, a.rng)
		newFirst := i%2 == 0
		first, second := newSearch, prevSearch
		if !newFirst {
			first, second = prevSearch, newSearch
		}
		result, err := a.playGame(ctx, first, second)
		if err != nil {
			return res, fmt.Errorf("arena game %d: %w", i, err)
		}
		if !newFirst {
			result = -result
		}
		switch {
		case result > 0:
			res.NewWins++
			winRate.Push(1)
		case result < 0:
			res.PrevWins++
			winRate.Push(0)
		default:
			res.Draws++
		}
	}
	lower, upper := winRate.ConfidenceInterval(95)
	log.Info().Int("new-wins", res.NewWins).Int("prev-wins", res.PrevWins).Int("draws", res.Draws).
		Float64("win-rate", winRate.Mean()).Float64("ci95-low", lower).Float64("ci95-high", upper).
		Msg("arena-finished")
	return res, nil
}

// playGame returns the result from the first player's perspective.
func (a *Arena) playGame(ctx context.Context, first, second selfplay.TreeSearch) (float64, error) {
	players := map[game.Player]selfplay.TreeSearch{game.Player1: first, game.Player2: second}
	board := a.rules.InitialBoard()
	cur := game.Player1
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		temp := 0.0
		if step < a.tempThreshold {
			temp = 1
		}
		pi, err := players[cur].ActionProbs(ctx, a.rules.CanonicalForm(board, cur), temp)
		if err != nil {
			return 0, err
		}
		if err := game.ValidateDistribution(pi, a.rules.ActionSize()); err != nil {
			return 0, err
		}
		action := int(distuv.NewCategorical(pi, a.rng).Rand())
		if valid := a.rules.ValidMoves(board, cur); !valid[action] {
			return 0, fmt.Errorf("%w: action %d", selfplay.ErrIllegalAction, action)
		}
		board, cur = a.rules.NextState(board, cur, action)
		if r, ended := a.rules.TerminalResult(board, cur); ended {
			if cur != game.Player1 {
				r = -r
			}
			return r, nil
		}
	}
}
