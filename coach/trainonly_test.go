package coach

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/nnet"
	"github.com/domino14/zerocoach/persist"
	"github.com/domino14/zerocoach/replay"
)

// readOnlyHandle serves predictions but refuses to be trained.
type readOnlyHandle struct {
	fakeHandle
}

func (*readOnlyHandle) CheckTrainable(context.Context) error {
	return fmt.Errorf("%w: inference-only model", nnet.ErrReadOnlyModel)
}

// evaluatingHandle records the examples it is asked to score.
type evaluatingHandle struct {
	fakeHandle

	evalMu    sync.Mutex
	evaluated [][]replay.Example
}

func (e *evaluatingHandle) Evaluate(_ context.Context, examples []replay.Example) (nnet.Loss, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	e.evaluated = append(e.evaluated, slices.Clone(examples))
	return nnet.Loss{Policy: 1.5, Value: 0.25, Examples: len(examples)}, nil
}

// numberedHistory holds n examples split over two generations. Each
// example's Value is its position in flatten order.
func numberedHistory(n int) replay.History {
	h, _ := replay.NewHistory(4)
	first, _ := replay.NewBuffer(n)
	second, _ := replay.NewBuffer(n)
	for i := range n {
		e := replay.Example{Board: make(game.Board, 9), Pi: make([]float64, 9), Value: float64(i)}
		if i < n*3/5 {
			first.Add(e)
		} else {
			second.Add(e)
		}
	}
	return replay.Append(replay.Append(h, first), second)
}

func values(examples []replay.Example) []float64 {
	out := make([]float64, len(examples))
	for i, e := range examples {
		out[i] = e.Value
	}
	return out
}

func TestSplitHoldout(t *testing.T) {
	is := is.New(t)
	examples := replay.Flatten(numberedHistory(100))

	holdout, train := splitHoldout(examples)
	is.Equal(len(holdout), 5)
	is.Equal(len(train), 95)
	is.Equal(values(holdout), []float64{0, 1, 2, 3, 4})
	is.Equal(train[0].Value, 5.0)

	holdout, train = splitHoldout(examples[:19])
	is.Equal(len(holdout), 0)
	is.Equal(len(train), 19)
}

func TestTrainOnly(t *testing.T) {
	is := is.New(t)
	h := &evaluatingHandle{fakeHandle: fakeHandle{actionSize: 9}}
	args := testArgs(t)
	args.TrainOnlyRounds = 3
	store := newMemStore()
	store.files["snap.examples"] = numberedHistory(100)
	c := newTestCoach(t, args, h, store, &fixedPrompter{})

	report, err := c.TrainOnly(context.Background(), "snap.examples")
	is.NoErr(err)
	is.Equal(len(report), 3)
	for i, r := range report {
		is.Equal(r.Round, i+1)
		is.True(r.Loss != nil)
		is.Equal(r.Loss.Examples, 5)
	}

	want := make([]float64, 0, 95)
	for v := 5; v < 100; v++ {
		want = append(want, float64(v))
	}
	is.Equal(len(h.trainSets), 3)
	for _, set := range h.trainSets {
		got := values(set)
		slices.Sort(got)
		// Same examples every round, and never a held-out one.
		is.Equal(got, want)
	}
	// Reshuffled between rounds.
	is.True(!slices.Equal(values(h.trainSets[0]), values(h.trainSets[1])))
	is.True(!slices.Equal(values(h.trainSets[1]), values(h.trainSets[2])))

	is.Equal(len(h.evaluated), 3)
	for _, ev := range h.evaluated {
		is.Equal(values(ev), []float64{0, 1, 2, 3, 4})
	}
	is.Equal(h.Calls(), []string{
		"train", "save:trainonly.pth.tar",
		"train", "save:trainonly.pth.tar",
		"train", "save:trainonly.pth.tar",
	})
	is.Equal(h.leasesSeen.Load(), int32(0))
}

func TestTrainOnlyDefaultsToResumedExamples(t *testing.T) {
	h := &fakeHandle{actionSize: 9}
	args := testArgs(t)
	args.TrainOnlyRounds = 2
	store := newMemStore()
	store.files[filepath.Join(args.LoadFolder, persist.ExamplesFileName(persist.BestModelFile))] = numberedHistory(40)
	c := newTestCoach(t, args, h, store, &fixedPrompter{})

	report, err := c.TrainOnly(context.Background(), "")
	assert.NoError(t, err)
	assert.Len(t, report, 2)
	// fakeHandle cannot score examples.
	assert.Nil(t, report[0].Loss)
	assert.Equal(t, []int{38, 38}, h.trainSizes)

	_, err = c.TrainOnly(context.Background(), "missing.examples")
	assert.ErrorIs(t, err, persist.ErrNotFound)
}

func TestTrainOnlyRejectsBadRounds(t *testing.T) {
	is := is.New(t)
	h := &fakeHandle{actionSize: 9}
	c := newTestCoach(t, testArgs(t), h, newMemStore(), &fixedPrompter{})
	_, err := c.TrainOnly(context.Background(), "snap.examples")
	is.True(errors.Is(err, ErrInvalidArgs))
	is.Equal(len(h.Calls()), 0)
}

func TestReadOnlyModelFailsBeforeSelfPlay(t *testing.T) {
	is := is.New(t)
	h := &readOnlyHandle{fakeHandle: fakeHandle{actionSize: 9}}
	store := newMemStore()
	c := newTestCoach(t, testArgs(t), h, store, &fixedPrompter{})

	err := c.Learn(context.Background())
	is.True(errors.Is(err, nnet.ErrReadOnlyModel))
	is.Equal(h.leasesSeen.Load(), int32(0))
	is.Equal(len(h.trainSizes), 0)
	is.Equal(len(h.Calls()), 0)
	is.Equal(len(store.order), 0)

	args := testArgs(t)
	args.TrainOnlyRounds = 1
	c = newTestCoach(t, args, h, store, &fixedPrompter{})
	_, err = c.TrainOnly(context.Background(), "snap.examples")
	is.True(errors.Is(err, nnet.ErrReadOnlyModel))
	is.Equal(len(h.trainSizes), 0)
}
