package nnet

import (
	"context"
	"expvar"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

var (
	PredictBatches *expvar.Int
	Predictions    *expvar.Int
)

func init() {
	PredictBatches = expvar.NewInt("nnetPredictBatches")
	Predictions = expvar.NewInt("nnetPredictions")
}

type requestKind int

const (
	kindPredict requestKind = iota
	kindTrain
	kindSave
	kindLoad
	kindEvaluate
)

type request struct {
	kind     requestKind
	board    game.Board
	examples []replay.Example
	folder   string
	file     string
	reply    chan response
}

type response struct {
	pred Prediction
	loss Loss
	err  error
}

// Service owns a Model and serves it to concurrent callers. Prediction
// requests that arrive together are coalesced into one PredictBatch call.
// Training, saving and loading go through the same goroutine, so they never
// interleave with a model call.
type Service struct {
	model     Model
	batchSize int

	reqs chan request
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	gate      sync.RWMutex
}

// NewService wraps model. Call Run to start serving.
func NewService(model Model, batchSize int) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Service{
		model:     model,
		batchSize: batchSize,
		reqs:      make(chan request),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run serves requests until ctx is cancelled or Close is called.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case r := <-s.reqs:
			s.serve(r)
		}
	}
}

// Close stops the service. Requests made afterwards fail with ErrClosed.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}

func (s *Service) serve(first request) {
	if first.kind != kindPredict {
		s.handle(first)
		return
	}
	batch := []request{first}
	var deferred *request
drain:
	for len(batch) < s.batchSize {
		select {
		case r := <-s.reqs:
			if r.kind != kindPredict {
				deferred = &r
				break drain
			}
			batch = append(batch, r)
		default:
			break drain
		}
	}
	s.predict(batch)
	if deferred != nil {
		s.handle(*deferred)
	}
}

func (s *Service) predict(batch []request) {
	boards := make([]game.Board, len(batch))
	for i, r := range batch {
		boards[i] = r.board
	}
	preds, err := s.model.PredictBatch(boards)
	if err == nil && len(preds) != len(batch) {
		err = fmt.Errorf("%w: %d predictions for %d boards", ErrBadPrediction, len(preds), len(batch))
	}
	PredictBatches.Add(1)
	Predictions.Add(int64(len(batch)))
	for i, r := range batch {
		if err != nil {
			r.reply <- response{err: err}
			continue
		}
		r.reply <- response{pred: preds[i]}
	}
}

func (s *Service) handle(r request) {
	var err error
	switch r.kind {
	case kindTrain:
		log.Debug().Int("examples", len(r.examples)).Msg("training")
		err = s.model.Train(r.examples)
	case kindSave:
		err = saveCheckpoint(s.model, r.folder, r.file)
	case kindLoad:
		err = loadCheckpoint(s.model, r.folder, r.file)
	case kindEvaluate:
		lm, ok := s.model.(LossModel)
		if !ok {
			r.reply <- response{err: ErrNoLoss}
			return
		}
		loss, err := lm.Loss(r.examples)
		r.reply <- response{loss: loss, err: err}
		return
	default:
		err = fmt.Errorf("unexpected request kind %d", r.kind)
	}
	r.reply <- response{err: err}
}

func (s *Service) send(ctx context.Context, r request) error {
	select {
	case s.reqs <- r:
		return nil
	case <-s.quit:
		return ErrClosed
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) call(ctx context.Context, r request) (response, error) {
	r.reply = make(chan response, 1)
	if err := s.send(ctx, r); err != nil {
		return response{}, err
	}
	select {
	case resp := <-r.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// callExclusive is call for requests that change the weights. Once the
// actor has the request the reply is always awaited, so the write gate is
// never released while the model is still changing.
func (s *Service) callExclusive(ctx context.Context, r request) error {
	r.reply = make(chan response, 1)
	if err := s.send(ctx, r); err != nil {
		return err
	}
	return (<-r.reply).err
}

func (s *Service) Predict(ctx context.Context, b game.Board) (Prediction, error) {
	resp, err := s.call(ctx, request{kind: kindPredict, board: b})
	return resp.pred, err
}

// Lease blocks until no training is in progress and then keeps training
// out until release is called. Leases may be held concurrently.
func (s *Service) Lease() func() {
	s.gate.RLock()
	var once sync.Once
	return func() { once.Do(s.gate.RUnlock) }
}

// Train waits for every outstanding lease to be released.
func (s *Service) Train(ctx context.Context, examples []replay.Example) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.callExclusive(ctx, request{kind: kindTrain, examples: examples})
}

func (s *Service) SaveCheckpoint(ctx context.Context, folder, file string) error {
	_, err := s.call(ctx, request{kind: kindSave, folder: folder, file: file})
	return err
}

func (s *Service) LoadCheckpoint(ctx context.Context, folder, file string) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	return s.callExclusive(ctx, request{kind: kindLoad, folder: folder, file: file})
}

// Evaluate scores examples without training on them.
func (s *Service) Evaluate(ctx context.Context, examples []replay.Example) (Loss, error) {
	resp, err := s.call(ctx, request{kind: kindEvaluate, examples: examples})
	return resp.loss, err
}

// CheckTrainable fails with ErrReadOnlyModel when the model only serves
// predictions.
func (s *Service) CheckTrainable(ctx context.Context) error {
	if ro, ok := s.model.(ReadOnlyModel); ok && ro.ReadOnly() {
		return fmt.Errorf("%w: %T", ErrReadOnlyModel, s.model)
	}
	return ctx.Err()
}
