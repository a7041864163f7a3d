package persist

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/domino14/zerocoach/game"
	"github.com/domino14/zerocoach/replay"
)

func sampleHistory(t *testing.T) replay.History {
	t.Helper()
	h, err := replay.NewHistory(3)
	if err != nil {
		t.Fatal(err)
	}
	for g := 0; g < 4; g++ {
		buf, _ := replay.NewBuffer(10)
		for i := 0; i < g; i++ {
			buf.Add(replay.Example{
				Board: game.Board{int8(g), int8(-i), 0},
				Pi:    []float64{0.1 * float64(i), 1 - 0.1*float64(i), 0},
				Value: float64(i%3 - 1),
			})
		}
		h = replay.Append(h, buf)
	}
	return h
}

func TestFileNames(t *testing.T) {
	is := is.New(t)
	is.Equal(FileName(0), "checkpoint_0.pth.tar")
	is.Equal(ExamplesFileName(FileName(4)), "checkpoint_4.pth.tar.examples")
	g, ok := GenerationFromFileName("checkpoint_12.pth.tar.examples")
	is.True(ok)
	is.Equal(g, 12)
	_, ok = GenerationFromFileName(ExamplesFileName(BestModelFile))
	is.True(!ok)
}

func TestFileStoreRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "temp")
	s := NewFileStore(dir)
	h := sampleHistory(t)

	path, err := s.Save(ctx, 2, h)
	is.NoErr(err)
	is.Equal(path, filepath.Join(dir, "checkpoint_2.pth.tar.examples"))
	got, err := s.Load(ctx, path)
	is.NoErr(err)
	is.Equal(got, h)

	// Saving again replaces the snapshot; nothing else is left behind.
	_, err = s.Save(ctx, 2, h)
	is.NoErr(err)
	entries, err := os.ReadDir(dir)
	is.NoErr(err)
	is.Equal(len(entries), 1)
}

func TestFileStoreErrors(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir)

	_, err := s.Load(ctx, s.Path(9))
	is.True(errors.Is(err, ErrNotFound))
	is.True(errors.Is(err, fs.ErrNotExist))

	junk := filepath.Join(dir, "junk.examples")
	is.NoErr(os.WriteFile(junk, []byte("hello world"), 0o644))
	_, err = s.Load(ctx, junk)
	is.True(errors.Is(err, ErrBadMagic))

	old := filepath.Join(dir, "old.examples")
	is.NoErr(os.WriteFile(old, append([]byte("ZCEX"), 9), 0o644))
	_, err = s.Load(ctx, old)
	is.True(errors.Is(err, ErrUnsupportedVersion))
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "examples.db")
	s, err := OpenSQLiteStore(ctx, dbPath)
	is.NoErr(err)
	defer s.Close()

	h := sampleHistory(t)
	path, err := s.Save(ctx, 0, h)
	is.NoErr(err)
	is.Equal(path, dbPath+"#0")
	got, err := s.Load(ctx, path)
	is.NoErr(err)
	is.Equal(got, h)

	// A newer generation with a smaller history replaces nothing old.
	h2, _ := replay.NewHistory(3)
	buf, _ := replay.NewBuffer(2)
	buf.Add(replay.Example{Board: game.Board{1}, Pi: []float64{1}, Value: 1})
	h2 = replay.Append(h2, buf)
	_, err = s.Save(ctx, 1, h2)
	is.NoErr(err)

	got, err = s.Load(ctx, "checkpoint_0.pth.tar.examples")
	is.NoErr(err)
	is.Equal(got, h)
	got, err = s.Load(ctx, "best.pth.tar.examples")
	is.NoErr(err)
	is.Equal(got, h2)

	_, err = s.Load(ctx, s.Path(7))
	is.True(errors.Is(err, ErrNotFound))
}

func TestProgress(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	_, err := LoadProgress(dir)
	is.True(errors.Is(err, ErrNotFound))

	p := Progress{
		Generation:   3,
		ModelFile:    FileName(3),
		ExamplesPath: "temp/checkpoint_2.pth.tar.examples",
		Persisted:    true,
		Unpersisted:  []int{1},
		UpdatedAt:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
	is.NoErr(SaveProgress(dir, p))
	got, err := LoadProgress(dir)
	is.NoErr(err)
	is.Equal(got, p)
}
