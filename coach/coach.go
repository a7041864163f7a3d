// Package coach runs the self-play training loop: generate games with the
// current model, fold them into a bounded history, persist it, and train.
package coach

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/persist"
	"github.com/domino14/zerocoach/replay"
	"github.com/domino14/zerocoach/selfplay"
	"github.com/domino14/zerocoach/stats"
)

var (
	ErrAborted     = errors.New("aborted by operator")
	ErrInvalidArgs = errors.New("invalid coach arguments")
)

var UnpersistedGenerations *expvar.Int

func init() {
	UnpersistedGenerations = expvar.NewInt("coachUnpersistedGenerations")
}

type Coach struct {
	args     Args
	rules    game.Rules
	handle   nnet.Handle
	runner   *selfplay.Runner
	store    persist.Store
	prompter Prompter
	rng      *rand.Rand
	arena    *Arena

	history           replay.History
	skipFirstSelfPlay bool
	unpersisted       []int
	summaries         []*stats.GenerationSummary
}

func New(args Args, rules game.Rules, handle nnet.Handle, runner *selfplay.Runner,
	store persist.Store, prompter Prompter, rng *rand.Rand) (*Coach, error) {

	var errs []error
	for _, a := range []struct {
		name string
		v    int
	}{
		{"num-iters", args.NumIters},
		{"num-eps", args.NumEps},
		{"batch-size", args.BatchSize},
		{"selfplay-workers", args.SelfPlayWorkers},
		{"max-queue-len", args.MaxQueueLen},
	} {
		if a.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", a.name, a.v))
		}
	}
	h, err := replay.NewHistory(args.HistoryDepth)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgs, errors.Join(errs...))
	}
	return &Coach{
		args:     args,
		rules:    rules,
		handle:   handle,
		runner:   runner,
		store:    store,
		prompter: prompter,
		rng:      rng,
		history:  h,
	}, nil
}

// SetArena turns on model gating. Without an arena every trained model is
// kept.
func (c *Coach) SetArena(a *Arena) {
	c.arena = a
}

func (c *Coach) History() replay.History { return c.history }

// Unpersisted lists the generations whose examples snapshot could not be
// saved.
func (c *Coach) Unpersisted() []int { return slices.Clone(c.unpersisted) }

func (c *Coach) Summaries() []*stats.GenerationSummary { return c.summaries }

// Learn runs NumIters generations. Each generation plays NumEps self-play
// games (skipped on the first generation after a resume), appends them to
// the history, saves the history, and trains once on all of it.
func (c *Coach) Learn(ctx context.Context) error {
	if err := c.checkTrainable(ctx); err != nil {
		return err
	}
	for i := 1; i <= c.args.NumIters; i++ {
		logger := log.With().Int("generation", i).Logger()
		logger.Info().Msg("starting-generation")

		if !c.skipFirstSelfPlay || i > 1 {
			summary := &stats.GenerationSummary{Generation: i}
			buf, err := c.selfPlay(ctx, summary)
			if err != nil {
				return fmt.Errorf("generation %d self-play: %w", i, err)
			}
			if c.history.Full() {
				logger.Warn().Int("history-depth", c.history.Depth()).
					Msg("history-full-removing-oldest-generation")
			}
			c.history = replay.Append(c.history, buf)
			c.summaries = append(c.summaries, summary)
			c.logSummary(logger, summary, buf)
		}
		c.checkMemory()

		examplesPath, err := c.store.Save(ctx, i-1, c.history)
		persisted := err == nil
		if err != nil {
			logger.Error().Err(err).Int("snapshot", i-1).Msg("could-not-persist-examples")
			c.unpersisted = append(c.unpersisted, i-1)
			UnpersistedGenerations.Add(1)
		}

		modelFile, err := c.train(ctx, i)
		if err != nil {
			return fmt.Errorf("generation %d training: %w", i, err)
		}

		err = persist.SaveProgress(c.args.Checkpoint, persist.Progress{
			Generation:   i,
			ModelFile:    modelFile,
			ExamplesPath: examplesPath,
			Persisted:    persisted,
			Unpersisted:  c.unpersisted,
			UpdatedAt:    time.Now().UTC(),
		})
		if err != nil {
			logger.Warn().Err(err).Msg("could-not-save-progress")
		}
	}
	return nil
}

func (c *Coach) selfPlay(ctx context.Context, summary *stats.GenerationSummary) (*replay.Buffer, error) {
	buf, err := replay.NewBuffer(c.args.MaxQueueLen)
	if err != nil {
		return nil, err
	}
	sizes := batchSizes(c.args.NumEps, c.args.BatchSize)
	results := make([][]*selfplay.Result, len(sizes))
	partial := make([]*stats.GenerationSummary, len(sizes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.args.SelfPlayWorkers)
	start := time.Now()
	for bi, n := range sizes {
		g.Go(func() error {
			res, err := c.runner.RunBatch(gctx, n)
			if err != nil {
				return fmt.Errorf("batch %d: %w", bi, err)
			}
			results[bi] = res
			partial[bi] = &stats.GenerationSummary{}
			for _, r := range res {
				partial[bi].AddGame(r.Plies, r.Result, len(r.Examples))
			}
			log.Debug().Int("batch", bi).Int("size", n).Msg("batch-finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for bi, batch := range results {
		for _, r := range batch {
			buf.Add(r.Examples...)
		}
		summary.Merge(partial[bi])
	}
	log.Info().Int("games", summary.Games()).Dur("elapsed", time.Since(start)).Msg("self-play-done")
	return buf, nil
}

// train saves the pre-training model, trains once on the whole history and
// decides which model to keep. It returns the model file now in use.
func (c *Coach) train(ctx context.Context, i int) (string, error) {
	if err := c.handle.SaveCheckpoint(ctx, c.args.Checkpoint, persist.TempModelFile); err != nil {
		return "", err
	}
	if c.arena != nil {
		if err := c.arena.prev.LoadCheckpoint(ctx, c.args.Checkpoint, persist.TempModelFile); err != nil {
			return "", err
		}
	}

	examples := replay.TrainingSet(c.history, c.rng)
	log.Info().Int("examples", len(examples)).Msg("training")
	if err := c.handle.Train(ctx, examples); err != nil {
		return "", err
	}

	if c.arena != nil {
		res, err := c.arena.Play(ctx, c.handle)
		if err != nil {
			return "", err
		}
		if !res.Accept(c.arena.threshold) {
			log.Info().Msg("rejecting-new-model")
			if err := c.handle.LoadCheckpoint(ctx, c.args.Checkpoint, persist.TempModelFile); err != nil {
				return "", err
			}
			// temp.pth.tar holds the model now in use.
			return persist.TempModelFile, nil
		}
		log.Info().Msg("accepting-new-model")
	}
	model := persist.FileName(i)
	if err := c.handle.SaveCheckpoint(ctx, c.args.Checkpoint, model); err != nil {
		return "", err
	}
	if err := c.handle.SaveCheckpoint(ctx, c.args.Checkpoint, persist.BestModelFile); err != nil {
		return "", err
	}
	return model, nil
}

// Resume loads the configured model and then its training examples.
func (c *Coach) Resume(ctx context.Context) error {
	if err := c.LoadModel(ctx); err != nil {
		return err
	}
	return c.LoadTrainExamples(ctx)
}

// LoadModel loads the configured model file, or the one named by the
// progress record when no file is configured.
func (c *Coach) LoadModel(ctx context.Context) error {
	file := c.args.LoadFile
	if file == "" {
		p, err := persist.LoadProgress(c.args.LoadFolder)
		if err != nil {
			return err
		}
		file = p.ModelFile
	}
	log.Info().Str("folder", c.args.LoadFolder).Str("file", file).Msg("loading-checkpoint")
	return c.handle.LoadCheckpoint(ctx, c.args.LoadFolder, file)
}

// LoadTrainExamples restores the history saved next to the model being
// resumed. If there is none the operator decides whether to start with an
// empty history.
func (c *Coach) LoadTrainExamples(ctx context.Context) error {
	path, err := c.examplesPath()
	var h replay.History
	if err == nil {
		h, err = c.store.Load(ctx, path)
	}
	if errors.Is(err, persist.ErrNotFound) {
		log.Warn().Str("path", path).Msg("file with train examples not found")
		ok, perr := c.prompter.Confirm("Continue? [y|n]")
		if perr != nil {
			return perr
		}
		if !ok {
			return ErrAborted
		}
		return nil
	} else if err != nil {
		return err
	}

	log.Info().Str("path", path).Msg("file with train examples found, loading it")
	h, err = replay.HistoryFromGenerations(c.args.HistoryDepth, h.Generations())
	if err != nil {
		return err
	}
	c.history = h
	c.skipFirstSelfPlay = true
	log.Info().Int("generations", h.Len()).Int("examples", h.TotalExamples()).Msg("loading-done")
	return nil
}

func (c *Coach) examplesPath() (string, error) {
	if c.args.LoadFile != "" {
		return filepath.Join(c.args.LoadFolder, persist.ExamplesFileName(c.args.LoadFile)), nil
	}
	p, err := persist.LoadProgress(c.args.LoadFolder)
	if err != nil {
		return "", err
	}
	if p.ExamplesPath == "" {
		return "", fmt.Errorf("%w: progress has no examples path", persist.ErrNotFound)
	}
	return p.ExamplesPath, nil
}

// checkTrainable fails before any game is played when the handle reports
// that its model cannot be trained.
func (c *Coach) checkTrainable(ctx context.Context) error {
	tc, ok := c.handle.(nnet.TrainabilityChecker)
	if !ok {
		return nil
	}
	if err := tc.CheckTrainable(ctx); err != nil {
		return fmt.Errorf("model cannot be trained by this run: %w", err)
	}
	return nil
}

func (c *Coach) checkMemory() {
	board := c.rules.InitialBoard()
	need := replay.EstimateBytes(c.history.TotalExamples(), len(board), c.rules.ActionSize())
	total := memory.TotalMemory()
	if total == 0 {
		return
	}
	if float64(need) > c.args.MemoryFraction*float64(total) {
		log.Warn().Uint64("history-bytes", need).Uint64("total-memory", total).
			Msg("example-history-is-using-a-large-share-of-memory")
	}
}

func (c *Coach) logSummary(logger zerolog.Logger, s *stats.GenerationSummary, buf *replay.Buffer) {
	logger.Info().Int("games", s.Games()).Int("p1-wins", s.P1Wins).Int("p2-wins", s.P2Wins).
		Int("draws", s.Draws).Int("examples", buf.Len()).Int("evicted", buf.Evicted()).
		Float64("mean-plies", s.Plies.Mean()).Msg("generation-summary")
	if e := logger.Debug(); e.Enabled() {
		var sb strings.Builder
		sb.WriteString(s.String())
		sb.WriteString("\n")
		if err := s.Histogram(&sb); err != nil {
			e.Err(err)
		}
		e.Msg("\n" + sb.String())
	}
}
