// Package persist writes example histories to durable storage, one snapshot
// per generation, and keeps the bookkeeping needed to resume a run.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/domino14/zerocoach/replay"
)

var (
	ErrNotFound           = errors.New("examples snapshot not found")
	ErrBadMagic           = errors.New("not an examples file")
	ErrUnsupportedVersion = errors.New("unsupported examples file version")
)

// Store persists history snapshots keyed by generation. Snapshots are never
// deleted; saving a generation again replaces its snapshot.
type Store interface {
	Save(ctx context.Context, generation int, h replay.History) (string, error)
	Load(ctx context.Context, path string) (replay.History, error)
	Path(generation int) string
}

const (
	checkpointPrefix = "checkpoint_"
	modelSuffix      = ".pth.tar"
	examplesSuffix   = ".examples"

	TempModelFile      = "temp" + modelSuffix
	BestModelFile      = "best" + modelSuffix
	TrainOnlyModelFile = "trainonly" + modelSuffix
)

// FileName is the model checkpoint name for a generation.
func FileName(generation int) string {
	return checkpointPrefix + strconv.Itoa(generation) + modelSuffix
}

// ExamplesFileName is the examples artifact stored next to a model file.
func ExamplesFileName(modelFile string) string {
	return modelFile + examplesSuffix
}

// GenerationFromFileName reverses FileName, with or without the examples
// suffix.
func GenerationFromFileName(name string) (int, bool) {
	name = strings.TrimSuffix(name, examplesSuffix)
	rest, ok := strings.CutPrefix(name, checkpointPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, modelSuffix)
	if !ok {
		return 0, false
	}
	g, err := strconv.Atoi(rest)
	if err != nil || g < 0 {
		return 0, false
	}
	return g, true
}

func notFound(path string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
}
