// Package nnet is the prediction service boundary. A Model is owned by a
// single goroutine inside a Service; everything else talks to it through a
// Handle, which is safe for concurrent use.
package nnet

import (
	"context"
	"errors"
	"io"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

var (
	ErrClosed          = errors.New("prediction service is closed")
	ErrNoCheckpoint    = errors.New("no checkpoint found")
	ErrReadOnlyModel   = errors.New("model cannot be trained")
	ErrPayloadTooLarge = errors.New("payload exceeds transport limit")
	ErrBadPrediction   = errors.New("model returned a malformed prediction")
	ErrNoLoss          = errors.New("model cannot report a loss")
)

// Prediction is a prior over the action space plus a value estimate in
// [-1, 1] for the player to move.
type Prediction struct {
	Policy []float64
	Value  float64
}

type Predictor interface {
	Predict(ctx context.Context, b game.Board) (Prediction, error)
}

// SharedPredictor is a Predictor that can be leased by a batch of
// concurrent callers. While any lease is held no training happens.
type SharedPredictor interface {
	Predictor
	Lease() (release func())
}

// Handle is what the training loop drives.
type Handle interface {
	SharedPredictor
	Train(ctx context.Context, examples []replay.Example) error
	SaveCheckpoint(ctx context.Context, folder, file string) error
	LoadCheckpoint(ctx context.Context, folder, file string) error
}

// Loss is the mean policy cross-entropy and mean squared value error over a
// set of examples.
type Loss struct {
	Policy   float64
	Value    float64
	Examples int
}

// TrainabilityChecker is implemented by handles that can tell before any
// work is done that Train would fail.
type TrainabilityChecker interface {
	CheckTrainable(ctx context.Context) error
}

// Evaluator is implemented by handles that can score a held-out set.
type Evaluator interface {
	Evaluate(ctx context.Context, examples []replay.Example) (Loss, error)
}

// Model is the learnable function behind a Service. Implementations need
// not be safe for concurrent use.
type Model interface {
	PredictBatch(boards []game.Board) ([]Prediction, error)
	Train(examples []replay.Example) error
	Save(w io.Writer) error
	Load(r io.Reader) error
}

// LossModel is a Model that can score examples without training on them.
type LossModel interface {
	Loss(examples []replay.Example) (Loss, error)
}

// ReadOnlyModel is implemented by models that only serve predictions.
type ReadOnlyModel interface {
	ReadOnly() bool
}
