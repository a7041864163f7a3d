package nnet

import (
	"math/rand/v2"

	"github.com/rs/zerolog/log"

	"github.com/domino14/zerocoach/config"
)

// NewModelFromConfig builds the ONNX model when one is configured and the
// trainable linear model otherwise.
func NewModelFromConfig(cfg *config.Config, boardLen, actionSize int, rng *rand.Rand) (Model, error) {
	if path := cfg.GetString(config.ConfigOnnxModel); path != "" {
		log.Info().Str("path", path).Msg("using-onnx-model")
		return NewOnnxModel(cfg, path, boardLen, actionSize)
	}
	return NewLinearModel(boardLen, actionSize, TrainParams{
		Epochs:       cfg.GetInt(config.ConfigTrainEpochs),
		BatchSize:    cfg.GetInt(config.ConfigTrainBatchSize),
		LearningRate: cfg.GetFloat64(config.ConfigLearningRate),
	}, rng), nil
}
