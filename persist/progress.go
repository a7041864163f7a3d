package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const ProgressFileName = "progress.yaml"

// Progress records the last generation a run completed.
type Progress struct {
	Generation   int       `yaml:"generation"`
	ModelFile    string    `yaml:"model_file"`
	ExamplesPath string    `yaml:"examples_path"`
	Persisted    bool      `yaml:"persisted"`
	Unpersisted  []int     `yaml:"unpersisted,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

func SaveProgress(folder string, p Progress) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	path := filepath.Join(folder, ProgressFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadProgress reads the folder's progress file. A missing file yields
// ErrNotFound.
func LoadProgress(folder string) (Progress, error) {
	var p Progress
	path := filepath.Join(folder, ProgressFileName)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, notFound(path, err)
	} else if err != nil {
		return p, err
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}
