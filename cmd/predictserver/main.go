package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/domino14/zerocoach/config"
	"github.com/domino14/zerocoach/game/tictactoe"
	"github.com/domino14/zerocoach/nnet"
)

func main() {
	cfg := &config.Config{}
	if err := cfg.Load(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg.SetupLogger()

	url := cfg.GetString(config.ConfigNatsURL)
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		log.Fatal().Err(err).Str("url", url).Msg("could-not-connect")
	}
	defer nc.Close()

	rules, err := tictactoe.New(cfg.GetInt(config.ConfigBoardSize), cfg.GetInt(config.ConfigWinLength))
	if err != nil {
		log.Fatal().Err(err).Msg("bad-board")
	}
	seed := cfg.GetUint64(config.ConfigSeed)
	if seed == 0 {
		seed = frand.Uint64n(1 << 62)
	}
	model, err := nnet.NewModelFromConfig(cfg, len(rules.InitialBoard()), rules.ActionSize(),
		rand.New(rand.NewPCG(seed, seed+1)))
	if err != nil {
		log.Fatal().Err(err).Msg("could-not-build-model")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := nnet.NewService(model, cfg.GetInt(config.ConfigPredictBatchSize))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		return nnet.ServeNATS(gctx, nc, cfg.GetString(config.ConfigNatsSubject), svc)
	})
	log.Info().Str("url", url).Str("subject", cfg.GetString(config.ConfigNatsSubject)).Msg("serving")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server-failed")
	}
	log.Info().Int64("batches", nnet.PredictBatches.Value()).
		Int64("predictions", nnet.Predictions.Value()).Msg("shutting-down")
}
