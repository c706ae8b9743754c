package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime is the hot-reloadable overlay. Absent sections leave the running
// values untouched.
type Runtime struct {
	Risk     *RiskLimits `yaml:"risk"`
	Signals  *SignalGate `yaml:"signals"`
	LogLevel string      `yaml:"log_level"`
}

// RiskLimits replaces the risk manager's limits as a whole.
type RiskLimits struct {
	MaxPositionSize  float64 `yaml:"max_position_size"`
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`
	MaxConcentration float64 `yaml:"max_concentration"`
}

// SignalGate adjusts the converter; nil fields are left unchanged.
type SignalGate struct {
	Enabled         *bool    `yaml:"enabled"`
	MinConfidence   *float64 `yaml:"min_confidence"`
	DefaultQuantity *float64 `yaml:"default_quantity"`
}

// LoadRuntime parses the overlay at path. Unknown keys are an error so typos
// do not silently keep old limits.
func LoadRuntime(path string) (*Runtime, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRuntime(raw)
}

// ParseRuntime decodes an overlay document.
func ParseRuntime(raw []byte) (*Runtime, error) {
	var rt Runtime
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rt); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("runtime config: %w", err)
	}
	if g := rt.Signals; g != nil && g.MinConfidence != nil {
		if v := *g.MinConfidence; v < 0 || v > 1 {
			return nil, fmt.Errorf("runtime config: signals.min_confidence %v outside [0,1]", v)
		}
	}
	return &rt, nil
}
