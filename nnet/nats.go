package nnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

const (
	subjPredict = ".predict"
	subjTrain   = ".train"
	subjSave    = ".save"
	subjLoad    = ".load"
	subjInfo    = ".info"
)

// NATSServer answers prediction service requests for one Handle. Requests
// on subject.predict are answered concurrently so the service can batch
// them; the other subjects are answered in the subscription's goroutine.
type NATSServer struct {
	ctx  context.Context
	h    Handle
	subs []*nats.Subscription

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewNATSServer subscribes to every subject before returning. Flush the
// connection afterwards to be sure the server has seen the subscriptions.
func NewNATSServer(ctx context.Context, nc *nats.Conn, subject string, h Handle) (*NATSServer, error) {
	s := &NATSServer{ctx: ctx, h: h}
	handlers := []struct {
		subj string
		fn   nats.MsgHandler
	}{
		{subject + subjPredict, s.predict},
		{subject + subjTrain, s.train},
		{subject + subjSave, s.save},
		{subject + subjLoad, s.load},
		{subject + subjInfo, s.info},
	}
	for _, hd := range handlers {
		sub, err := nc.Subscribe(hd.subj, hd.fn)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", hd.subj, err)
		}
		s.subs = append(s.subs, sub)
		log.Info().Str("subject", hd.subj).Msg("listening")
	}
	return s, nil
}

// Close unsubscribes and waits for in-flight predictions to be answered.
func (s *NATSServer) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
}

func (s *NATSServer) predict(m *nats.Msg) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		respond(m, encodePredictReply(Prediction{}, ErrClosed))
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.pending.Done()
		b, err := decodePredictRequest(m.Data)
		var p Prediction
		if err == nil {
			p, err = s.h.Predict(s.ctx, b)
		}
		respond(m, encodePredictReply(p, err))
	}()
}

func (s *NATSServer) train(m *nats.Msg) {
	examples, err := replay.ParseExamples(m.Data)
	if err == nil {
		log.Info().Int("examples", len(examples)).Msg("remote-train")
		err = s.h.Train(s.ctx, examples)
	}
	respond(m, encodeAck(err))
}

func (s *NATSServer) save(m *nats.Msg) {
	folder, file, err := decodeCheckpointRequest(m.Data)
	if err == nil {
		err = s.h.SaveCheckpoint(s.ctx, folder, file)
	}
	respond(m, encodeAck(err))
}

func (s *NATSServer) load(m *nats.Msg) {
	folder, file, err := decodeCheckpointRequest(m.Data)
	if err == nil {
		err = s.h.LoadCheckpoint(s.ctx, folder, file)
	}
	respond(m, encodeAck(err))
}

func (s *NATSServer) info(m *nats.Msg) {
	var err error
	if tc, ok := s.h.(TrainabilityChecker); ok {
		err = tc.CheckTrainable(s.ctx)
	}
	if errors.Is(err, ErrReadOnlyModel) {
		respond(m, encodeInfoReply(false, nil))
		return
	}
	respond(m, encodeInfoReply(err == nil, err))
}

// ServeNATS runs a NATSServer until ctx is done.
func ServeNATS(ctx context.Context, nc *nats.Conn, subject string, h Handle) error {
	s, err := NewNATSServer(ctx, nc, subject, h)
	if err != nil {
		return err
	}
	defer s.Close()
	<-ctx.Done()
	return ctx.Err()
}

func respond(m *nats.Msg, data []byte) {
	if err := m.Respond(data); err != nil {
		log.Err(err).Str("subject", m.Subject).Msg("respond-failed")
	}
}

// NATSClient is a Handle backed by a remote ServeNATS. Leases are local:
// they keep this process from training while its own batches run.
type NATSClient struct {
	nc       *nats.Conn
	subject  string
	timeout  time.Duration
	attempts uint

	gate sync.RWMutex
}

func NewNATSClient(nc *nats.Conn, subject string, timeout time.Duration) *NATSClient {
	return &NATSClient{nc: nc, subject: subject, timeout: timeout, attempts: 5}
}

func (c *NATSClient) request(ctx context.Context, subj string, data []byte, timeout time.Duration) ([]byte, error) {
	if limit := c.nc.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(data), limit)
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(rctx, subj, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Predict retries transport failures with backoff. Errors reported by the
// remote model are returned immediately.
func (c *NATSClient) Predict(ctx context.Context, b game.Board) (Prediction, error) {
	var p Prediction
	data := encodePredictRequest(b)
	err := retry.Do(
		func() error {
			reply, err := c.request(ctx, c.subject+subjPredict, data, c.timeout)
			if err != nil {
				if errors.Is(err, ErrPayloadTooLarge) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			p, err = decodePredictReply(reply)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			log.Debug().Err(err).Uint("n", n).Msg("predict-request-failed-try-again")
			return retry.BackOffDelay(n, err, config)
		}),
	)
	return p, err
}

func (c *NATSClient) Lease() func() {
	c.gate.RLock()
	var once sync.Once
	return func() { once.Do(c.gate.RUnlock) }
}

// Train is sent once and never retried; a lost reply must not turn into a
// second training step.
func (c *NATSClient) Train(ctx context.Context, examples []replay.Example) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	// Training can take much longer than a prediction.
	reply, err := c.request(ctx, c.subject+subjTrain, replay.AppendExamples(nil, examples), 100*c.timeout)
	if err != nil {
		return err
	}
	return decodeAck(reply)
}

func (c *NATSClient) SaveCheckpoint(ctx context.Context, folder, file string) error {
	reply, err := c.request(ctx, c.subject+subjSave, encodeCheckpointRequest(folder, file), c.timeout)
	if err != nil {
		return err
	}
	return decodeAck(reply)
}

// CheckTrainable asks the remote side whether its model can be trained.
func (c *NATSClient) CheckTrainable(ctx context.Context) error {
	reply, err := c.request(ctx, c.subject+subjInfo, nil, c.timeout)
	if err != nil {
		return err
	}
	trainable, err := decodeInfoReply(reply)
	if err != nil {
		return err
	}
	if !trainable {
		return fmt.Errorf("%w: remote model on %s", ErrReadOnlyModel, c.subject)
	}
	return nil
}

func (c *NATSClient) LoadCheckpoint(ctx context.Context, folder, file string) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	reply, err := c.request(ctx, c.subject+subjLoad, encodeCheckpointRequest(folder, file), c.timeout)
	if err != nil {
		return err
	}
	return decodeAck(reply)
}
