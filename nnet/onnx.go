package nnet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/domino14/zerocoach/cache"
	"github.com/domino14/zerocoach/config"
	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

// OnnxModel runs inference on an exported network. The network takes a
// float32 tensor of shape (batch, boardLen) and produces policy logits of
// shape (batch, actionSize) and a value of shape (batch, 1).
type OnnxModel struct {
	boardLen   int
	actionSize int

	data    []byte
	backend *gorgonnx.Graph
	model   *onnx.Model
}

// OnnxLoadFunc reads the raw model file for a cache key of the form
// onnx:<path>.
func OnnxLoadFunc(cfg *config.Config, key string) (any, error) {
	path, ok := strings.CutPrefix(key, "onnx:")
	if !ok || path == "" {
		return nil, errors.New("onnxloadfunc - bad cache key: " + key)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX model file: %w", err)
	}
	log.Debug().Str("path", path).Int("model-size", len(b)).Msg("loaded-onnx-model")
	return b, nil
}

// NewOnnxModel loads the model at path through the object cache.
func NewOnnxModel(cfg *config.Config, path string, boardLen, actionSize int) (*OnnxModel, error) {
	data, err := cache.LoadAs[[]byte](cfg, "onnx:"+path, OnnxLoadFunc)
	if err != nil {
		return nil, err
	}
	m := &OnnxModel{boardLen: boardLen, actionSize: actionSize}
	if err := m.instantiate(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OnnxModel) instantiate(data []byte) error {
	start := time.Now()
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("failed to unmarshal ONNX model: %w", err)
	}
	m.data, m.backend, m.model = data, backend, model
	log.Debug().Int64("onnx_model_init_ms", time.Since(start).Milliseconds()).
		Msg("onnx model instance created")
	return nil
}

func (m *OnnxModel) PredictBatch(boards []game.Board) ([]Prediction, error) {
	if len(boards) == 0 {
		return []Prediction{}, nil
	}
	input := make([]float32, 0, len(boards)*m.boardLen)
	for _, b := range boards {
		if len(b) != m.boardLen {
			return nil, fmt.Errorf("board has %d cells, model expects %d", len(b), m.boardLen)
		}
		for _, c := range b {
			input = append(input, float32(c))
		}
	}
	t := tensor.New(tensor.WithShape(len(boards), m.boardLen), tensor.WithBacking(input))
	m.model.SetInput(0, t)
	if err := m.backend.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	outputs, err := m.model.GetOutputTensors()
	if err != nil {
		return nil, err
	}
	if len(outputs) < 2 {
		return nil, fmt.Errorf("%w: expected policy and value outputs, got %d", ErrBadPrediction, len(outputs))
	}
	logits, ok := outputs[0].Data().([]float32)
	if !ok || len(logits) != len(boards)*m.actionSize {
		return nil, fmt.Errorf("%w: policy output", ErrBadPrediction)
	}
	values, ok := outputs[1].Data().([]float32)
	if !ok || len(values) != len(boards) {
		return nil, fmt.Errorf("%w: value output", ErrBadPrediction)
	}
	preds := make([]Prediction, len(boards))
	for i := range boards {
		row := logits[i*m.actionSize : (i+1)*m.actionSize]
		preds[i] = Prediction{Policy: softmax32(row), Value: float64(values[i])}
	}
	return preds, nil
}

func softmax32(logits []float32) []float64 {
	out := make([]float64, len(logits))
	mx := math.Inf(-1)
	for _, l := range logits {
		mx = math.Max(mx, float64(l))
	}
	total := 0.0
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - mx)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func (m *OnnxModel) Train([]replay.Example) error {
	return ErrReadOnlyModel
}

func (m *OnnxModel) ReadOnly() bool { return true }

// Save writes the ONNX bytes unchanged.
func (m *OnnxModel) Save(w io.Writer) error {
	_, err := io.Copy(w, bytes.NewReader(m.data))
	return err
}

// Load replaces the network with the ONNX model read from r.
func (m *OnnxModel) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return m.instantiate(data)
}
