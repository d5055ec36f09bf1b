// Package config loads named strategy configurations from a directory of
// YAML files. Each file <name>.yaml defines the strategy <name>.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"factor-lab/internal/domain"
	"factor-lab/internal/simulation"
)

// Config errors
var (
	ErrStrategyNotFound = errors.New("strategy config not found")
	ErrInvalidConfig    = errors.New("invalid strategy config")
)

// fileConfig is the on-disk layout of a strategy file.
type fileConfig struct {
	CoinNum  int       `yaml:"coin_num"`
	Window   int       `yaml:"window"`
	HoldHour string    `yaml:"hold_hour"`
	CRate    float64   `yaml:"c_rate"`
	Factors  yaml.Node `yaml:"factors"`
}

// Parse decodes one strategy file. Factor order follows the order of keys in
// the factors mapping.
func Parse(name string, data []byte) (domain.StrategyConfig, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}

	factors, err := decodeFactors(&fc.Factors)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}

	cfg := domain.StrategyConfig{
		Name:     name,
		CoinNum:  fc.CoinNum,
		Window:   fc.Window,
		HoldHour: strings.TrimSpace(fc.HoldHour),
		CRate:    fc.CRate,
		Factors:  factors,
	}
	if err := Validate(cfg); err != nil {
		return domain.StrategyConfig{}, err
	}
	return cfg, nil
}

// decodeFactors walks a mapping node pair by pair to keep key order.
// A missing or null node yields an empty blend.
func decodeFactors(node *yaml.Node) (domain.FactorWeights, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("factors: expected mapping at line %d", node.Line)
	}

	weights := make(domain.FactorWeights, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var w float64
		if err := val.Decode(&w); err != nil {
			return nil, fmt.Errorf("factors.%s: %v", key.Value, err)
		}
		if seen[key.Value] {
			return nil, fmt.Errorf("factors.%s: duplicate factor", key.Value)
		}
		seen[key.Value] = true
		weights = append(weights, domain.FactorWeight{Name: key.Value, Weight: w})
	}
	return weights, nil
}

// Validate checks the numeric parameters of a strategy config.
func Validate(cfg domain.StrategyConfig) error {
	switch {
	case cfg.CoinNum <= 0:
		return fmt.Errorf("%w: %s: coin_num must be positive, got %d", ErrInvalidConfig, cfg.Name, cfg.CoinNum)
	case cfg.Window <= 0:
		return fmt.Errorf("%w: %s: window must be positive, got %d", ErrInvalidConfig, cfg.Name, cfg.Window)
	case cfg.CRate < 0 || cfg.CRate >= 1 || math.IsNaN(cfg.CRate):
		return fmt.Errorf("%w: %s: c_rate must be in [0, 1), got %v", ErrInvalidConfig, cfg.Name, cfg.CRate)
	}
	if _, err := simulation.ParseHoldHours(cfg.HoldHour); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, cfg.Name, err)
	}
	for _, f := range cfg.Factors {
		if f.Name == "" {
			return fmt.Errorf("%w: %s: empty factor name", ErrInvalidConfig, cfg.Name)
		}
		if math.IsNaN(f.Weight) || math.IsInf(f.Weight, 0) {
			return fmt.Errorf("%w: %s: factor %s has non-finite weight", ErrInvalidConfig, cfg.Name, f.Name)
		}
	}
	return nil
}

// LoadFile reads and parses a single strategy file, named after its stem.
func LoadFile(path string) (domain.StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(stem(path), data)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseFactorList parses "name:weight,name:weight" into an ordered blend.
// A name without a weight gets weight 1.
func ParseFactorList(s string) (domain.FactorWeights, error) {
	var weights domain.FactorWeights
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, raw, hasWeight := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty factor name in %q", ErrInvalidConfig, s)
		}
		weight := 1.0
		if hasWeight {
			w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("%w: factor %s has invalid weight %q", ErrInvalidConfig, name, raw)
			}
			weight = w
		}
		weights = append(weights, domain.FactorWeight{Name: name, Weight: weight})
	}
	return weights, nil
}
