package selfplay

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
)

var (
	GamesPlayed     *expvar.Int
	BatchesInFlight *expvar.Int
)

func init() {
	GamesPlayed = expvar.NewInt("selfplayGames")
	BatchesInFlight = expvar.NewInt("selfplayBatchesInFlight")
}

var ErrInvalidBatchSize = errors.New("batch size must be positive")

type RunnerConfig struct {
	TempThreshold int
	MaxPlies      int
}

// Runner plays batches of trajectories concurrently against one shared
// predictor.
type Runner struct {
	rules     game.Rules
	predictor nnet.SharedPredictor
	factory   SearchFactory
	cfg       RunnerConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRunner(rules game.Rules, p nnet.SharedPredictor, factory SearchFactory,
	cfg RunnerConfig, rng *rand.Rand) *Runner {

	return &Runner{rules: rules, predictor: p, factory: factory, cfg: cfg, rng: rng}
}

func (r *Runner) seeds(n int) [][2]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]uint64, n)
	for i := range out {
		out[i] = [2]uint64{r.rng.Uint64(), r.rng.Uint64()}
	}
	return out
}

// RunBatch plays n trajectories at once and returns them in launch order.
// If any trajectory fails the others are cancelled and no results are
// returned. The predictor is leased for the whole batch.
func (r *Runner) RunBatch(ctx context.Context, n int) ([]*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, n)
	}
	seeds := r.seeds(n)

	release := r.predictor.Lease()
	defer release()
	BatchesInFlight.Add(1)
	defer BatchesInFlight.Add(-1)

	results := make([]*Result, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
			sim := NewSimulator(r.rules, r.factory(r.rules, r.predictor, rng), rng, r.cfg.TempThreshold)
			sim.MaxPlies = r.cfg.MaxPlies
			res, err := sim.Run(gctx)
			if err != nil {
				return fmt.Errorf("trajectory %d: %w", i, err)
			}
			results[i] = res
			GamesPlayed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Debug().Err(err).Int("batch-size", n).Msg("batch-failed")
		return nil, err
	}
	return results, nil
}
