package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/certa/pkg/certa/internalerr"
)

// Config is the YAML configuration of an explainer
type Config struct {
	Explain   Explain   `yaml:"explain"`
	Predictor Predictor `yaml:"predictor"`
	Tables    Tables    `yaml:"tables"`
	Store     Store     `yaml:"store"`
}

// Explain holds the explanation parameters.
type Explain struct {
	NumTriangles int  `yaml:"num_triangles"`
	AttrLength   int  `yaml:"attr_length"` // <= 0 derives the bound from the pair
	UseLeft      bool `yaml:"use_left"`
	UseRight     bool `yaml:"use_right"`
	Check        bool `yaml:"check"`
	DiscardBad   bool `yaml:"discard_bad"`
	ReturnTop    bool `yaml:"return_top"`
	// MaxPredict caps the rows scored per retrieval; <= 0 scans everything.
	MaxPredict     int    `yaml:"max_predict"`
	Seed           uint64 `yaml:"seed"`
	Counterfactual bool   `yaml:"counterfactual"`
}

// Predictor describes the remote matcher endpoint
type Predictor struct {
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Tables points at the background tables.
type Tables struct {
	Left        string `yaml:"left"`
	Right       string `yaml:"right"`
	StripMarkup bool   `yaml:"strip_markup"`
	Normalize   bool   `yaml:"normalize"`
}

// Store configures run persistence. An empty path disables it.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Explain: Explain{
			NumTriangles: 100,
			UseLeft:      true,
			UseRight:     true,
		},
		Predictor: Predictor{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := c.Explain.Validate(); err != nil {
		return err
	}
	if c.Predictor.RatePerSecond < 0 {
		return fmt.Errorf("%w: predictor.rate_per_second must not be negative", internalerr.ErrInvalidConfig)
	}
	if c.Predictor.Timeout < 0 {
		return fmt.Errorf("%w: predictor.timeout must not be negative", internalerr.ErrInvalidConfig)
	}
	return nil
}

// Validate checks the explanation parameters. Disabling both retrieval
// sides is allowed and yields an empty explanation.
func (e Explain) Validate() error {
	if e.NumTriangles <= 0 {
		return fmt.Errorf("%w: explain.num_triangles must be positive, got %d", internalerr.ErrInvalidConfig, e.NumTriangles)
	}
	return nil
}

// NoRetrieval reports whether both retrieval sides are disabled.
func (e Explain) NoRetrieval() bool { return !e.UseLeft && !e.UseRight }
