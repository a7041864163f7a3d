package nnet

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

func saveCheckpoint(m Model, folder, file string) error {
	if _, err := os.Stat(folder); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("folder", folder).Msg("checkpoint directory does not exist, creating it")
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}
	path := filepath.Join(folder, file)
	tmp, err := os.CreateTemp(folder, file+".*.tmp")
	if err != nil {
		return err
	}
	if err := m.Save(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("saving model to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	log.Debug().Str("path", path).Msg("saved-checkpoint")
	return nil
}

func loadCheckpoint(m Model, folder, file string) error {
	path := filepath.Join(folder, file)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrNoCheckpoint, path, err)
	} else if err != nil {
		return err
	}
	defer f.Close()
	if err := m.Load(f); err != nil {
		return fmt.Errorf("loading model from %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("loaded-checkpoint")
	return nil
}
