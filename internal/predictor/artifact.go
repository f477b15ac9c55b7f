package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type artifact struct {
	Version    string      `json:"version"`
	TrainedAt  time.Time   `json:"trained_at"`
	Accuracy   float64     `json:"accuracy"`
	Samples    int         `json:"training_samples"`
	Vectorizer *Vectorizer `json:"vectorizer"`
	Model      *NaiveBayes `json:"model"`
}

// loadArtifact reads a persisted model. A missing file returns (nil, nil).
func loadArtifact(path string) (*modelState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if !a.Vectorizer.valid() || !a.Model.valid(a.Vectorizer.Size()) || a.Version == "" {
		return nil, fmt.Errorf("artifact %s is inconsistent", path)
	}

	return &modelState{
		vectorizer: a.Vectorizer,
		model:      a.Model,
		version:    a.Version,
		trainedAt:  a.TrainedAt,
		accuracy:   a.Accuracy,
		samples:    a.Samples,
	}, nil
}

// saveArtifact writes the model next to path and renames it into place.
func saveArtifact(path string, s *modelState) error {
	data, err := json.Marshal(artifact{
		Version:    s.version,
		TrainedAt:  s.trainedAt,
		Accuracy:   s.accuracy,
		Samples:    s.samples,
		Vectorizer: s.vectorizer,
		Model:      s.model,
	})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
