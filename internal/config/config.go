package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Hyperparams are the model and optimisation settings of a run
type Hyperparams struct {
	HiddenSize   int       `yaml:"hidden_size"`
	Dropout      float64   `yaml:"dropout"`
	LearningRate float64   `yaml:"learning_rate"`
	WeightDecay  float64   `yaml:"weight_decay"`
	InputDim     int       `yaml:"input_dim"`
	SplitRatio   []float64 `yaml:"split_ratio"`
	Seed         int64     `yaml:"seed"`
	Workers      int       `yaml:"workers"`
}

// Default returns the settings of the reference experiment
func Default() Hyperparams {
	return Hyperparams{
		HiddenSize:   32,
		Dropout:      0.2,
		LearningRate: 0.001,
		WeightDecay:  5e-4,
		InputDim:     5,
		SplitRatio:   []float64{0.8, 0.1, 0.1},
		Seed:         1,
	}
}

// Load overlays the YAML file at path on the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Hyperparams, error) {
	hp := Default()
	if path == "" {
		return hp, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return hp, errors.Wrap(err, "read config")
	}
	return Parse(raw)
}

// Parse overlays YAML bytes on the defaults; unknown keys are rejected
func Parse(raw []byte) (Hyperparams, error) {
	hp := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return hp, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&hp); err != nil {
		return Default(), errors.Wrap(err, "parse config")
	}
	if err := hp.Validate(); err != nil {
		return Default(), err
	}
	return hp, nil
}

// Validate checks ranges
func (hp Hyperparams) Validate() error {
	switch {
	case hp.HiddenSize <= 0:
		return errors.Errorf("hidden_size must be positive, got %d", hp.HiddenSize)
	case hp.Dropout < 0 || hp.Dropout >= 1:
		return errors.Errorf("dropout must be in [0, 1), got %v", hp.Dropout)
	case hp.LearningRate <= 0:
		return errors.Errorf("learning_rate must be positive, got %v", hp.LearningRate)
	case hp.WeightDecay < 0:
		return errors.Errorf("weight_decay must not be negative, got %v", hp.WeightDecay)
	case hp.InputDim <= 0:
		return errors.Errorf("input_dim must be positive, got %d", hp.InputDim)
	case len(hp.SplitRatio) != 3:
		return errors.Errorf("split_ratio needs 3 values, got %d", len(hp.SplitRatio))
	case hp.Workers < 0:
		return errors.Errorf("workers must not be negative, got %d", hp.Workers)
	}
	sum := 0.0
	for _, r := range hp.SplitRatio {
		if r <= 0 {
			return errors.Errorf("split_ratio values must be positive, got %v", hp.SplitRatio)
		}
		sum += r
	}
	if sum < 0.999 || sum > 1.001 {
		return errors.Errorf("split_ratio must sum to 1, got %v", sum)
	}
	return nil
}
