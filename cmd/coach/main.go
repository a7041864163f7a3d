package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"lukechampine.com/frand"

	"github.com/domino14/zerocoach/coach"
	"github.com/domino14/zerocoach/config"
	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/game/tictactoe"
	"github.com/domino14/zerocoach/mcts"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/persist"
	"github.com/domino14/zerocoach/selfplay"
)

var (
	GitVersion string
)

func main() {
	cfg := &config.Config{}
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.SetupLogger()
	log.Info().Str("version", GitVersion).Msgf("Loaded config: %v", cfg.SanitizedSettings())
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("bad-config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("got quit signal...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, coach.ErrAborted) {
			log.Info().Msg("aborted")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("coach-failed")
	}
	log.Info().Int64("games", selfplay.GamesPlayed.Value()).
		Int64("unpersisted", coach.UnpersistedGenerations.Value()).
		Msg("done")
}

func run(ctx context.Context, cfg *config.Config) error {
	seed := cfg.GetUint64(config.ConfigSeed)
	if seed == 0 {
		seed = frand.Uint64n(math.MaxUint64)
	}
	log.Info().Uint64("seed", seed).Msg("seeding")
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	fork := func() *rand.Rand { return rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())) }

	rules, err := tictactoe.New(cfg.GetInt(config.ConfigBoardSize), cfg.GetInt(config.ConfigWinLength))
	if err != nil {
		return err
	}

	handle, err := newHandle(ctx, cfg, rules, fork())
	if err != nil {
		return err
	}

	params := mcts.Params{
		NumSims:         cfg.GetInt(config.ConfigNumMCTSSims),
		Cpuct:           cfg.GetFloat64(config.ConfigCpuct),
		DirichletAlpha:  cfg.GetFloat64(config.ConfigDirichletAlpha),
		DirichletWeight: cfg.GetFloat64(config.ConfigDirichletWeight),
	}
	runner := selfplay.NewRunner(rules, handle, mcts.Factory(params), selfplay.RunnerConfig{
		TempThreshold: cfg.GetInt(config.ConfigTempThreshold),
		MaxPlies:      cfg.GetInt(config.ConfigMaxPlies),
	}, fork())

	var store persist.Store
	switch cfg.GetString(config.ConfigStore) {
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.GetString(config.ConfigCheckpoint), 0o755); err != nil {
			return err
		}
		s, err := persist.OpenSQLiteStore(ctx, cfg.SQLitePath())
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	default:
		store = persist.NewFileStore(cfg.GetString(config.ConfigCheckpoint))
	}

	var prompter coach.Prompter = coach.ReadlinePrompter{}
	if cfg.GetBool(config.ConfigAssumeYes) {
		prompter = coach.AutoPrompter{Answer: true}
	}

	c, err := coach.New(coach.ArgsFromConfig(cfg), rules, handle, runner, store, prompter, fork())
	if err != nil {
		return err
	}

	if cfg.GetBool(config.ConfigTrainOnly) {
		if cfg.GetBool(config.ConfigLoadModel) {
			if err := c.LoadModel(ctx); err != nil {
				return err
			}
		}
		_, err := c.TrainOnly(ctx, cfg.GetString(config.ConfigTrainExamples))
		return err
	}

	if cfg.GetBool(config.ConfigArenaEnabled) && cfg.GetInt(config.ConfigArenaCompare) > 0 {
		// The previous model always runs in-process.
		model, err := nnet.NewModelFromConfig(cfg, len(rules.InitialBoard()), rules.ActionSize(), fork())
		if err != nil {
			return err
		}
		prev := nnet.NewService(model, cfg.GetInt(config.ConfigPredictBatchSize))
		go prev.Run(ctx)
		defer prev.Close()
		arenaParams := params
		arenaParams.DirichletWeight = 0
		c.SetArena(coach.NewArena(rules, mcts.Factory(arenaParams), prev,
			cfg.GetInt(config.ConfigArenaCompare), cfg.GetFloat64(config.ConfigUpdateThreshold),
			cfg.GetInt(config.ConfigArenaTempThreshold), fork()))
	}

	if cfg.GetBool(config.ConfigLoadModel) {
		if err := c.Resume(ctx); err != nil {
			return err
		}
	}
	log.Info().Msg("starting-the-learning-process")
	return c.Learn(ctx)
}

// newHandle connects to a remote prediction service when a NATS URL is
// configured and starts an in-process one otherwise.
func newHandle(ctx context.Context, cfg *config.Config, rules game.Rules, rng *rand.Rand) (nnet.Handle, error) {
	if url := cfg.GetString(config.ConfigNatsURL); url != "" {
		nc, err := nats.Connect(url)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", url, err)
		}
		go func() {
			<-ctx.Done()
			nc.Close()
		}()
		return nnet.NewNATSClient(nc, cfg.GetString(config.ConfigNatsSubject), 5*time.Second), nil
	}
	model, err := nnet.NewModelFromConfig(cfg, len(rules.InitialBoard()), rules.ActionSize(), rng)
	if err != nil {
		return nil, err
	}
	svc := nnet.NewService(model, cfg.GetInt(config.ConfigPredictBatchSize))
	go svc.Run(ctx)
	return svc, nil
}
