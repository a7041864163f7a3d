// Package mcts is a PUCT Monte Carlo tree search guided by a predictor.
// A search holds the statistics of one game and must not be shared between
// games.
package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/selfplay"
)

var ErrNoValidMoves = errors.New("non-terminal position has no valid moves")

const epsilon = 1e-8

type Params struct {
	NumSims int
	Cpuct   float64
	// DirichletAlpha and DirichletWeight mix noise into the root prior.
	// A zero weight turns the noise off.
	DirichletAlpha  float64
	DirichletWeight float64
}

type edge struct {
	s uint64
	a int
}

type terminal struct {
	result float64
	ended  bool
}

type MCTS struct {
	rules     game.Rules
	predictor nnet.Predictor
	params    Params
	rng       *rand.Rand

	qsa map[edge]float64
	nsa map[edge]int
	ns  map[uint64]int
	ps  map[uint64][]float64
	es  map[uint64]terminal
	vs  map[uint64][]bool

	rootKey   uint64
	rootPrior []float64
}

func New(rules game.Rules, p nnet.Predictor, params Params, rng *rand.Rand) *MCTS {
	return &MCTS{
		rules:     rules,
		predictor: p,
		params:    params,
		rng:       rng,
		qsa:       map[edge]float64{},
		nsa:       map[edge]int{},
		ns:        map[uint64]int{},
		ps:        map[uint64][]float64{},
		es:        map[uint64]terminal{},
		vs:        map[uint64][]bool{},
	}
}

// Factory adapts New to the self-play runner.
func Factory(params Params) selfplay.SearchFactory {
	return func(rules game.Rules, p nnet.Predictor, rng *rand.Rand) selfplay.TreeSearch {
		return New(rules, p, params, rng)
	}
}

func key(b game.Board) uint64 {
	return xxhash.Sum64(b.Bytes())
}

// ActionProbs runs NumSims simulations from canonical and returns the visit
// distribution. With temp 0 all mass goes to one most-visited action.
func (m *MCTS) ActionProbs(ctx context.Context, canonical game.Board, temp float64) ([]float64, error) {
	s := key(canonical)
	if _, ok := m.ps[s]; !ok {
		if _, err := m.search(ctx, canonical, 0); err != nil {
			return nil, err
		}
	}
	m.rootKey, m.rootPrior = s, nil
	if m.params.DirichletWeight > 0 {
		m.rootPrior = m.noisyPrior(s)
	}
	defer func() { m.rootPrior = nil }()

	for i := 0; i < m.params.NumSims; i++ {
		if _, err := m.search(ctx, canonical, 0); err != nil {
			return nil, err
		}
	}

	size := m.rules.ActionSize()
	counts := make([]float64, size)
	for a := range counts {
		counts[a] = float64(m.nsa[edge{s, a}])
	}
	if lo.Sum(counts) == 0 {
		// Too few simulations to visit anything; fall back to the prior.
		prior := make([]float64, size)
		copy(prior, m.ps[s])
		return prior, nil
	}

	probs := make([]float64, size)
	if temp == 0 {
		best := lo.Max(counts)
		var bestAs []int
		for a, c := range counts {
			if c == best {
				bestAs = append(bestAs, a)
			}
		}
		probs[bestAs[m.rng.IntN(len(bestAs))]] = 1
		return probs, nil
	}
	for a, c := range counts {
		probs[a] = math.Pow(c, 1/temp)
	}
	total := lo.Sum(probs)
	for a := range probs {
		probs[a] /= total
	}
	return probs, nil
}

func (m *MCTS) noisyPrior(s uint64) []float64 {
	prior := m.ps[s]
	valid := m.vs[s]
	var idx []int
	for a, v := range valid {
		if v {
			idx = append(idx, a)
		}
	}
	if len(idx) < 2 {
		return nil
	}
	alpha := make([]float64, len(idx))
	for i := range alpha {
		alpha[i] = m.params.DirichletAlpha
	}
	noise := distmv.NewDirichlet(alpha, m.rng).Rand(nil)
	w := m.params.DirichletWeight
	out := make([]float64, len(prior))
	copy(out, prior)
	for i, a := range idx {
		out[a] = (1-w)*prior[a] + w*noise[i]
	}
	return out
}

// search descends to a leaf and returns the value of b for the player who
// moved into it.
func (m *MCTS) search(ctx context.Context, b game.Board, depth int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := key(b)
	t, ok := m.es[s]
	if !ok {
		r, ended := m.rules.TerminalResult(b, game.Player1)
		t = terminal{result: r, ended: ended}
		m.es[s] = t
	}
	if t.ended {
		return -t.result, nil
	}

	if _, ok := m.ps[s]; !ok {
		return m.expand(ctx, b, s)
	}

	valid := m.vs[s]
	prior := m.ps[s]
	if depth == 0 && s == m.rootKey && m.rootPrior != nil {
		prior = m.rootPrior
	}
	bestU := math.Inf(-1)
	bestA := -1
	sqrtN := math.Sqrt(float64(m.ns[s]) + epsilon)
	for a, v := range valid {
		if !v {
			continue
		}
		e := edge{s, a}
		var u float64
		if n, ok := m.nsa[e]; ok {
			u = m.qsa[e] + m.params.Cpuct*prior[a]*sqrtN/float64(1+n)
		} else {
			u = m.params.Cpuct * prior[a] * sqrtN
		}
		if u > bestU {
			bestU, bestA = u, a
		}
	}
	if bestA < 0 {
		return 0, ErrNoValidMoves
	}

	next, p := m.rules.NextState(b, game.Player1, bestA)
	v, err := m.search(ctx, m.rules.CanonicalForm(next, p), depth+1)
	if err != nil {
		return 0, err
	}

	e := edge{s, bestA}
	if n, ok := m.nsa[e]; ok {
		m.qsa[e] = (float64(n)*m.qsa[e] + v) / float64(n+1)
		m.nsa[e] = n + 1
	} else {
		m.qsa[e] = v
		m.nsa[e] = 1
	}
	m.ns[s]++
	return -v, nil
}

func (m *MCTS) expand(ctx context.Context, b game.Board, s uint64) (float64, error) {
	pred, err := m.predictor.Predict(ctx, b)
	if err != nil {
		return 0, err
	}
	size := m.rules.ActionSize()
	if len(pred.Policy) != size {
		return 0, fmt.Errorf("%w: policy has %d entries, want %d", nnet.ErrBadPrediction, len(pred.Policy), size)
	}
	valid := m.rules.ValidMoves(b, game.Player1)
	prior := make([]float64, size)
	for a, v := range valid {
		if v {
			prior[a] = pred.Policy[a]
		}
	}
	total := lo.Sum(prior)
	if total > 0 {
		for a := range prior {
			prior[a] /= total
		}
	} else {
		// The net put all of its mass on invalid moves.
		log.Debug().Msg("all valid moves were masked, using uniform prior")
		n := float64(lo.Count(valid, true))
		if n == 0 {
			return 0, ErrNoValidMoves
		}
		for a, v := range valid {
			if v {
				prior[a] = 1 / n
			}
		}
	}
	m.ps[s] = prior
	m.vs[s] = valid
	m.ns[s] = 0
	return -pred.Value, nil
}
