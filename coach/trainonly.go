package coach

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/persist"
	"github.com/domino14/zerocoach/replay"
)

// holdoutFraction is the share of examples kept out of training in
// TrainOnly.
const holdoutFraction = 20

// TrainOnlyRound is the outcome of one TrainOnly round. Loss is nil when the
// model cannot score the held-out examples.
type TrainOnlyRound struct {
	Round int
	Loss  *nnet.Loss
}

// splitHoldout keeps the first len/20 examples for validation and returns
// the rest for training.
func splitHoldout(examples []replay.Example) (holdout, train []replay.Example) {
	n := len(examples) / holdoutFraction
	return examples[:n], examples[n:]
}

// TrainOnly trains on a saved examples snapshot without self-play. The
// training examples are reshuffled every round and the held-out loss is
// logged after each one. An empty path means the snapshot stored with the
// model being resumed. The model is saved as trainonly.pth.tar after every
// round.
func (c *Coach) TrainOnly(ctx context.Context, path string) ([]TrainOnlyRound, error) {
	rounds := c.args.TrainOnlyRounds
	if rounds <= 0 {
		return nil, fmt.Errorf("%w: train-only rounds must be positive, got %d", ErrInvalidArgs, rounds)
	}
	if err := c.checkTrainable(ctx); err != nil {
		return nil, err
	}
	if path == "" {
		p, err := c.examplesPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	h, err := c.store.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	holdout, train := splitHoldout(replay.Flatten(h))
	if len(train) == 0 {
		return nil, fmt.Errorf("no examples to train on in %s", path)
	}
	log.Info().Str("path", path).Int("train", len(train)).Int("held-out", len(holdout)).
		Int("rounds", rounds).Msg("train-only")

	eval, canEval := c.handle.(nnet.Evaluator)
	var report []TrainOnlyRound
	for r := 1; r <= rounds; r++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := log.With().Int("round", r).Logger()
		replay.Shuffle(train, c.rng)
		if err := c.handle.Train(ctx, train); err != nil {
			return report, fmt.Errorf("train-only round %d: %w", r, err)
		}

		round := TrainOnlyRound{Round: r}
		if canEval && len(holdout) > 0 {
			loss, err := eval.Evaluate(ctx, holdout)
			switch {
			case err == nil:
				round.Loss = &loss
				logger.Info().Float64("policy-loss", loss.Policy).Float64("value-loss", loss.Value).
					Int("held-out", loss.Examples).Msg("held-out-loss")
			case errors.Is(err, nnet.ErrNoLoss):
				logger.Info().Msg("held-out-loss-unavailable")
			default:
				return report, fmt.Errorf("train-only round %d: %w", r, err)
			}
		} else {
			logger.Info().Msg("held-out-loss-unavailable")
		}

		if err := c.handle.SaveCheckpoint(ctx, c.args.Checkpoint, persist.TrainOnlyModelFile); err != nil {
			return report, err
		}
		report = append(report, round)
	}
	return report, nil
}
