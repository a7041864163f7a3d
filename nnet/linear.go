package nnet

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

// TrainParams controls LinearModel training.
type TrainParams struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// LinearModel is a small learnable model: a softmax policy head and a tanh
// value head, both linear in a one-hot encoding of the board. Every cell
// contributes three features (own, empty, opponent) plus a shared bias.
type LinearModel struct {
	boardLen   int
	actionSize int
	params     TrainParams
	rng        *rand.Rand

	policy *mat.Dense // actionSize x features
	value  *mat.Dense // 1 x features
}

func NewLinearModel(boardLen, actionSize int, params TrainParams, rng *rand.Rand) *LinearModel {
	m := &LinearModel{
		boardLen:   boardLen,
		actionSize: actionSize,
		params:     params,
		rng:        rng,
	}
	f := m.features()
	m.policy = mat.NewDense(actionSize, f, nil)
	m.value = mat.NewDense(1, f, nil)
	return m
}

func (m *LinearModel) features() int { return 3*m.boardLen + 1 }

func (m *LinearModel) encode(b game.Board) (*mat.VecDense, error) {
	if len(b) != m.boardLen {
		return nil, fmt.Errorf("board has %d cells, model expects %d", len(b), m.boardLen)
	}
	x := mat.NewVecDense(m.features(), nil)
	for i, c := range b {
		switch {
		case c > 0:
			x.SetVec(3*i, 1)
		case c == 0:
			x.SetVec(3*i+1, 1)
		default:
			x.SetVec(3*i+2, 1)
		}
	}
	x.SetVec(m.features()-1, 1)
	return x, nil
}

func softmax(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	mx := mat.Max(v)
	for i := range out {
		out[i] = math.Exp(v.AtVec(i) - mx)
	}
	total := lo.Sum(out)
	for i := range out {
		out[i] /= total
	}
	return out
}

func (m *LinearModel) forward(x *mat.VecDense) ([]float64, float64) {
	logits := mat.NewVecDense(m.actionSize, nil)
	logits.MulVec(m.policy, x)
	v := mat.NewVecDense(1, nil)
	v.MulVec(m.value, x)
	return softmax(logits), math.Tanh(v.AtVec(0))
}

func (m *LinearModel) PredictBatch(boards []game.Board) ([]Prediction, error) {
	out := make([]Prediction, len(boards))
	for i, b := range boards {
		x, err := m.encode(b)
		if err != nil {
			return nil, err
		}
		pi, v := m.forward(x)
		out[i] = Prediction{Policy: pi, Value: v}
	}
	return out, nil
}

// Train runs minibatch gradient descent on cross-entropy for the policy and
// squared error for the value.
func (m *LinearModel) Train(examples []replay.Example) error {
	if len(examples) == 0 {
		return nil
	}
	if err := m.validate(examples); err != nil {
		return err
	}
	bs := max(m.params.BatchSize, 1)
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	f := m.features()
	gp := mat.NewDense(m.actionSize, f, nil)
	gv := mat.NewDense(1, f, nil)

	for epoch := 0; epoch < m.params.Epochs; epoch++ {
		m.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var piLoss, vLoss float64
		for start := 0; start < len(order); start += bs {
			end := min(start+bs, len(order))
			gp.Zero()
			gv.Zero()
			for _, idx := range order[start:end] {
				ex := examples[idx]
				x, err := m.encode(ex.Board)
				if err != nil {
					return err
				}
				p, v := m.forward(x)
				dlogits := mat.NewVecDense(m.actionSize, nil)
				for a := range p {
					dlogits.SetVec(a, p[a]-ex.Pi[a])
					piLoss -= ex.Pi[a] * math.Log(p[a]+1e-12)
				}
				gp.RankOne(gp, 1, dlogits, x)
				dv := 2 * (v - ex.Value) * (1 - v*v)
				gv.RankOne(gv, dv, mat.NewVecDense(1, []float64{1}), x)
				vLoss += (v - ex.Value) * (v - ex.Value)
			}
			scale := -m.params.LearningRate / float64(end-start)
			m.policy.Add(m.policy, scaled(gp, scale))
			m.value.Add(m.value, scaled(gv, scale))
		}
		n := float64(len(examples))
		log.Debug().Int("epoch", epoch).Float64("pi-loss", piLoss/n).
			Float64("v-loss", vLoss/n).Msg("linear-model-epoch")
	}
	return nil
}

// validate rejects the whole set before any weight changes.
func (m *LinearModel) validate(examples []replay.Example) error {
	for i, ex := range examples {
		if len(ex.Pi) != m.actionSize {
			return fmt.Errorf("example %d: pi has %d entries, model expects %d", i, len(ex.Pi), m.actionSize)
		}
		if len(ex.Board) != m.boardLen {
			return fmt.Errorf("example %d: board has %d cells, model expects %d", i, len(ex.Board), m.boardLen)
		}
	}
	return nil
}

// Loss scores examples with the current weights.
func (m *LinearModel) Loss(examples []replay.Example) (Loss, error) {
	loss := Loss{Examples: len(examples)}
	if len(examples) == 0 {
		return loss, nil
	}
	if err := m.validate(examples); err != nil {
		return loss, err
	}
	for _, ex := range examples {
		x, err := m.encode(ex.Board)
		if err != nil {
			return loss, err
		}
		p, v := m.forward(x)
		for a := range p {
			loss.Policy -= ex.Pi[a] * math.Log(p[a]+1e-12)
		}
		loss.Value += (v - ex.Value) * (v - ex.Value)
	}
	n := float64(len(examples))
	loss.Policy /= n
	loss.Value /= n
	return loss, nil
}

func scaled(m *mat.Dense, f float64) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}

// Save writes both weight matrices in gonum's binary format.
func (m *LinearModel) Save(w io.Writer) error {
	if _, err := m.policy.MarshalBinaryTo(w); err != nil {
		return err
	}
	_, err := m.value.MarshalBinaryTo(w)
	return err
}

func (m *LinearModel) Load(r io.Reader) error {
	var policy, value mat.Dense
	if _, err := policy.UnmarshalBinaryFrom(r); err != nil {
		return fmt.Errorf("policy weights: %w", err)
	}
	if _, err := value.UnmarshalBinaryFrom(r); err != nil {
		return fmt.Errorf("value weights: %w", err)
	}
	f := m.features()
	if pr, pc := policy.Dims(); pr != m.actionSize || pc != f {
		return errors.New("policy weights do not fit this board")
	}
	if vr, vc := value.Dims(); vr != 1 || vc != f {
		return errors.New("value weights do not fit this board")
	}
	m.policy = &policy
	m.value = &value
	return nil
}
