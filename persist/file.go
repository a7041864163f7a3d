package persist

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/domino14/zerocoach/replay"
)

var fileMagic = []byte("ZCEX")

const fileVersion byte = 1

// FileStore writes each snapshot to <folder>/checkpoint_<i>.pth.tar.examples
// as a gzipped protobuf-wire history behind a short header.
type FileStore struct {
	folder string
}

func NewFileStore(folder string) *FileStore {
	return &FileStore{folder: folder}
}

func (s *FileStore) Path(generation int) string {
	return filepath.Join(s.folder, ExamplesFileName(FileName(generation)))
}

// Save writes to a temporary file and renames it into place, so a crash
// never leaves a truncated snapshot under the final name.
func (s *FileStore) Save(ctx context.Context, generation int, h replay.History) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.folder, 0o755); err != nil {
		return "", err
	}
	path := s.Path(generation)
	tmp, err := os.CreateTemp(s.folder, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := writeHistory(tmp, h); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	log.Debug().Str("path", path).Int("examples", h.TotalExamples()).Msg("saved-examples")
	return path, nil
}

func writeHistory(w io.Writer, h replay.History) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(fileMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(fileVersion); err != nil {
		return err
	}
	zw := gzip.NewWriter(bw)
	if _, err := zw.Write(replay.AppendHistory(nil, h)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *FileStore) Load(ctx context.Context, path string) (replay.History, error) {
	if err := ctx.Err(); err != nil {
		return replay.History{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return replay.History{}, notFound(path, err)
	} else if err != nil {
		return replay.History{}, err
	}
	defer f.Close()
	h, err := readHistory(f)
	if err != nil {
		return replay.History{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return h, nil
}

func readHistory(r io.Reader) (replay.History, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(fileMagic)+1)
	if _, err := io.ReadFull(br, header); err != nil {
		return replay.History{}, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if !bytes.Equal(header[:len(fileMagic)], fileMagic) {
		return replay.History{}, ErrBadMagic
	}
	if v := header[len(fileMagic)]; v != fileVersion {
		return replay.History{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return replay.History{}, err
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return replay.History{}, err
	}
	return replay.ParseHistory(raw)
}
