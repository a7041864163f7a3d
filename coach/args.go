package coach

import (
	"github.com/domino14/zerocoach/config"
)

// Args are the training loop settings.
type Args struct {
	NumIters        int
	NumEps          int
	BatchSize       int
	SelfPlayWorkers int
	MaxQueueLen     int
	HistoryDepth    int
	TrainOnlyRounds int

	Checkpoint string
	LoadFolder string
	LoadFile   string

	MemoryFraction float64
}

func ArgsFromConfig(cfg *config.Config) Args {
	return Args{
		NumIters:        cfg.GetInt(config.ConfigNumIters),
		NumEps:          cfg.GetInt(config.ConfigNumEps),
		BatchSize:       cfg.GetInt(config.ConfigBatchSize),
		SelfPlayWorkers: cfg.GetInt(config.ConfigSelfPlayWorkers),
		MaxQueueLen:     cfg.GetInt(config.ConfigMaxQueueLen),
		HistoryDepth:    cfg.GetInt(config.ConfigHistoryDepth),
		TrainOnlyRounds: cfg.GetInt(config.ConfigTrainOnlyRounds),
		Checkpoint:      cfg.GetString(config.ConfigCheckpoint),
		LoadFolder:      cfg.GetString(config.ConfigLoadFolder),
		LoadFile:        cfg.GetString(config.ConfigLoadFile),
		MemoryFraction:  cfg.GetFloat64(config.ConfigMemoryFraction),
	}
}

// batchSizes splits total trajectories into batches of size, the last one
// taking the remainder.
func batchSizes(total, size int) []int {
	var out []int
	for total > 0 {
		n := min(size, total)
		out = append(out, n)
		total -= n
	}
	return out
}
