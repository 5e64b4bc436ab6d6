package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the pricing tunables. The zero value is not usable; start
// from DefaultConfig or LoadConfig.
type Config struct {
	// Demand score normalization caps.
	SessionCap int `yaml:"session_cap"`
	RequestCap int `yaml:"request_cap"`

	// Demand score weights; must sum to 1.
	SessionWeight float64 `yaml:"session_weight"`
	RequestWeight float64 `yaml:"request_weight"`

	// Multiplier = floor + span * demandScore.
	MultiplierFloor float64 `yaml:"multiplier_floor"`
	MultiplierSpan  float64 `yaml:"multiplier_span"`

	// Price bounds relative to a card's base price.
	PriceFloorRatio   float64 `yaml:"price_floor_ratio"`
	PriceCeilingRatio float64 `yaml:"price_ceiling_ratio"`

	// Demand window used for multiplier and trend classification.
	WindowHours int `yaml:"window_hours"`

	// Demand-level multiplier adjustments for trend recommendations.
	Adjustments map[string]float64 `yaml:"demand_adjustments"`
}

// DefaultConfig returns the marketplace defaults.
func DefaultConfig() Config {
	return Config{
		SessionCap:        100,
		RequestCap:        1000,
		SessionWeight:     0.6,
		RequestWeight:     0.4,
		MultiplierFloor:   0.8,
		MultiplierSpan:    1.2,
		PriceFloorRatio:   0.5,
		PriceCeilingRatio: 3.0,
		WindowHours:       24,
		Adjustments: map[string]float64{
			DemandHigh:    1.2,
			DemandMedium:  1.0,
			DemandLow:     0.8,
			DemandVeryLow: 0.6,
		},
	}
}

// LoadConfig reads tunables from a YAML file, filling unset fields with the
// defaults so a partial file stays valid.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse pricing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionCap <= 0 || c.RequestCap <= 0 {
		return fmt.Errorf("pricing config: caps must be positive")
	}
	if c.SessionWeight < 0 || c.RequestWeight < 0 {
		return fmt.Errorf("pricing config: weights must not be negative")
	}
	if c.MultiplierFloor <= 0 || c.MultiplierSpan < 0 {
		return fmt.Errorf("pricing config: multiplier floor must be positive")
	}
	if c.PriceFloorRatio <= 0 || c.PriceCeilingRatio < c.PriceFloorRatio {
		return fmt.Errorf("pricing config: price ratio bounds inverted")
	}
	if c.WindowHours <= 0 {
		return fmt.Errorf("pricing config: window hours must be positive")
	}
	for _, level := range []string{DemandHigh, DemandMedium, DemandLow, DemandVeryLow} {
		if _, ok := c.Adjustments[level]; !ok {
			return fmt.Errorf("pricing config: missing adjustment for %q", level)
		}
	}
	return nil
}
