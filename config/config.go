package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config keys. Every key doubles as a command-line flag and as an
// environment variable (ZEROCOACH_ prefix, dashes become underscores).
const (
	ConfigDebug = "debug"

	ConfigNumIters        = "num-iters"
	ConfigNumEps          = "num-eps"
	ConfigBatchSize       = "batch-size"
	ConfigSelfPlayWorkers = "selfplay-workers"
	ConfigTempThreshold   = "temp-threshold"
	ConfigMaxQueueLen     = "max-queue-len"
	ConfigHistoryDepth    = "history-depth"
	ConfigMaxPlies        = "max-plies"
	ConfigSeed            = "seed"

	ConfigNumMCTSSims     = "num-mcts-sims"
	ConfigCpuct           = "cpuct"
	ConfigDirichletAlpha  = "dirichlet-alpha"
	ConfigDirichletWeight = "dirichlet-weight"

	ConfigPredictBatchSize = "predict-batch-size"
	ConfigLearningRate     = "learning-rate"
	ConfigTrainEpochs      = "train-epochs"
	ConfigTrainBatchSize   = "train-batch-size"
	ConfigOnnxModel        = "onnx-model"

	ConfigCheckpoint = "checkpoint"
	ConfigLoadModel  = "load-model"
	ConfigLoadFolder = "load-folder"
	ConfigLoadFile   = "load-file"
	ConfigAssumeYes  = "assume-yes"

	ConfigTrainOnly       = "train-only"
	ConfigTrainOnlyRounds = "train-only-rounds"
	ConfigTrainExamples   = "train-examples"

	ConfigStore      = "store"
	ConfigSQLitePath = "sqlite-path"

	ConfigArenaEnabled       = "arena-enabled"
	ConfigArenaCompare       = "arena-compare"
	ConfigUpdateThreshold    = "update-threshold"
	ConfigArenaTempThreshold = "arena-temp-threshold"

	ConfigBoardSize = "board-size"
	ConfigWinLength = "win-length"

	ConfigNatsURL     = "nats-url"
	ConfigNatsSubject = "nats-subject"

	ConfigMemoryFraction = "memory-fraction"
	ConfigFile           = "config"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	*viper.Viper
}

// Load parses args on top of the defaults, the environment and an optional
// YAML config file. Flags that were set explicitly win over everything else.
func (c *Config) Load(args []string) error {
	c.Viper = viper.New()
	fs := pflag.NewFlagSet("zerocoach", pflag.ContinueOnError)

	fs.Bool(ConfigDebug, false, "debug logging on")

	fs.Int(ConfigNumIters, 10, "number of generations to run")
	fs.Int(ConfigNumEps, 350, "self-play trajectories per generation")
	fs.Int(ConfigBatchSize, 64, "trajectories simulated concurrently per batch")
	fs.Int(ConfigSelfPlayWorkers, 1, "batches allowed in flight at once")
	fs.Int(ConfigTempThreshold, 16, "ply at which sampling switches to greedy")
	fs.Int(ConfigMaxQueueLen, 1000000, "max examples kept from one generation")
	fs.Int(ConfigHistoryDepth, 4, "generations of examples used for training")
	fs.Int(ConfigMaxPlies, 0, "abort a trajectory after this many plies (0 is unlimited)")
	fs.Uint64(ConfigSeed, 0, "random seed (0 picks one at random)")

	fs.Int(ConfigNumMCTSSims, 800, "tree search simulations per move")
	fs.Float64(ConfigCpuct, 4, "exploration constant")
	fs.Float64(ConfigDirichletAlpha, 0.8, "root noise concentration")
	fs.Float64(ConfigDirichletWeight, 0.5, "root noise mixing weight (0 disables)")

	fs.Int(ConfigPredictBatchSize, 256, "max predictions evaluated in one model call")
	fs.Float64(ConfigLearningRate, 0.05, "learning rate for the reference model")
	fs.Int(ConfigTrainEpochs, 10, "training epochs per generation")
	fs.Int(ConfigTrainBatchSize, 64, "training minibatch size")
	fs.String(ConfigOnnxModel, "", "path to an ONNX model used for inference only")

	fs.String(ConfigCheckpoint, "./temp/", "folder for model checkpoints and examples")
	fs.Bool(ConfigLoadModel, false, "load a model and examples before the first generation")
	fs.String(ConfigLoadFolder, "./temp/", "folder to load the model from")
	fs.String(ConfigLoadFile, "best.pth.tar", "model file to load (empty means use progress.yaml)")
	fs.Bool(ConfigAssumeYes, false, "answer yes to every prompt")
	fs.Bool(ConfigTrainOnly, false, "train on saved examples without self-play")
	fs.Int(ConfigTrainOnlyRounds, 10, "training rounds in train-only mode")
	fs.String(ConfigTrainExamples, "", "examples file for train-only mode (defaults to the resumed model's)")
	fs.String(ConfigStore, StoreFile, "example store: file or sqlite")
	fs.String(ConfigSQLitePath, "", "sqlite database path (defaults to <checkpoint>/examples.db)")

	fs.Bool(ConfigArenaEnabled, false, "pit each new model against the previous one")
	fs.Int(ConfigArenaCompare, 200, "arena games per generation")
	fs.Float64(ConfigUpdateThreshold, 0.55, "win fraction a new model needs to be accepted")
	fs.Int(ConfigArenaTempThreshold, 5, "temperature threshold used in arena games")

	fs.Int(ConfigBoardSize, 3, "board width and height")
	fs.Int(ConfigWinLength, 3, "stones in a row needed to win")

	fs.String(ConfigNatsURL, "", "NATS server for a remote prediction service")
	fs.String(ConfigNatsSubject, "zerocoach.nnet", "NATS subject prefix for the prediction service")

	fs.Float64(ConfigMemoryFraction, 0.5, "warn when the example history needs more than this fraction of RAM")
	fs.String(ConfigFile, "", "YAML config file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c.SetEnvPrefix("zerocoach")
	c.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.AutomaticEnv()
	if err := c.BindPFlags(fs); err != nil {
		return err
	}

	if path := c.GetString(ConfigFile); path != "" {
		c.SetConfigFile(path)
		c.SetConfigType("yaml")
		if err := c.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return nil
}

// Default returns a configuration holding only the defaults.
func Default() *Config {
	c := &Config{}
	if err := c.Load(nil); err != nil {
		panic(err)
	}
	return c
}

// SanitizedSettings returns all settings, with anything that could carry
// credentials masked, for logging.
func (c *Config) SanitizedSettings() map[string]any {
	settings := c.AllSettings()
	if u, ok := settings[ConfigNatsURL].(string); ok && strings.Contains(u, "@") {
		settings[ConfigNatsURL] = "********"
	}
	return settings
}

// SQLitePath is the configured database path, or a default inside the
// checkpoint folder.
func (c *Config) SQLitePath() string {
	if p := c.GetString(ConfigSQLitePath); p != "" {
		return p
	}
	return strings.TrimRight(c.GetString(ConfigCheckpoint), "/") + "/examples.db"
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	positive := []string{
		ConfigNumIters, ConfigNumEps, ConfigBatchSize, ConfigSelfPlayWorkers,
		ConfigMaxQueueLen, ConfigHistoryDepth, ConfigNumMCTSSims,
		ConfigPredictBatchSize, ConfigTrainEpochs, ConfigTrainBatchSize,
		ConfigBoardSize, ConfigWinLength, ConfigTrainOnlyRounds,
	}
	for _, k := range positive {
		if c.GetInt(k) <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", k, c.GetInt(k)))
		}
	}
	if c.GetInt(ConfigMaxPlies) < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", ConfigMaxPlies))
	}
	if c.GetInt(ConfigArenaCompare) < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", ConfigArenaCompare))
	}
	if c.GetFloat64(ConfigCpuct) <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", ConfigCpuct))
	}
	if c.GetFloat64(ConfigLearningRate) <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", ConfigLearningRate))
	}
	for _, k := range []string{ConfigDirichletWeight, ConfigUpdateThreshold} {
		if v := c.GetFloat64(k); v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", k, v))
		}
	}
	if c.GetFloat64(ConfigDirichletWeight) > 0 && c.GetFloat64(ConfigDirichletAlpha) <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive when root noise is on", ConfigDirichletAlpha))
	}
	if v := c.GetFloat64(ConfigMemoryFraction); v <= 0 || v > 1 {
		errs = append(errs, fmt.Errorf("%s must be within (0, 1], got %v", ConfigMemoryFraction, v))
	}
	if c.GetInt(ConfigWinLength) > c.GetInt(ConfigBoardSize) {
		errs = append(errs, fmt.Errorf("%s cannot exceed %s", ConfigWinLength, ConfigBoardSize))
	}
	switch s := c.GetString(ConfigStore); s {
	case StoreFile, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown %s %q", ConfigStore, s))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
