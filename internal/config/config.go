package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Source             string
	Target             string
	Delimiter          string
	MinFeatures        int
	TestFraction       float64
	ValidationFraction float64

	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
	Seed         int64
	LogEvery     int

	ArtifactPath string
	PlotsDir     string
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Source       string
	Target       string
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Seed is applied when non-nil, so an explicit zero seed still overrides.
	Seed         *int64
	LogEvery     int
	ArtifactPath string
	PlotsDir     string
}

// Default returns the settings used by the wine-quality notebooks.
func Default() *Config {
	return &Config{
		Target:             "quality",
		TestFraction:       0.2,
		ValidationFraction: 0.2,
		Epochs:             100,
		BatchSize:          32,
		LearningRate:       0.001,
		Dropout:            0.2,
		Seed:               42,
		LogEvery:           50,
		ArtifactPath:       "out/wine_quality.ckpt",
		PlotsDir:           "out/plots",
	}
}

type fileSchema struct {
	Data   *dataBlock   `hcl:"data,block"`
	Train  *trainBlock  `hcl:"train,block"`
	Output *outputBlock `hcl:"output,block"`
}

type dataBlock struct {
	Source             *string  `hcl:"source,optional"`
	Target             *string  `hcl:"target,optional"`
	Delimiter          *string  `hcl:"delimiter,optional"`
	MinFeatures        *int     `hcl:"min_features,optional"`
	TestFraction       *float64 `hcl:"test_fraction,optional"`
	ValidationFraction *float64 `hcl:"validation_fraction,optional"`
}

type trainBlock struct {
	Epochs       *int     `hcl:"epochs,optional"`
	BatchSize    *int     `hcl:"batch_size,optional"`
	LearningRate *float64 `hcl:"learning_rate,optional"`
	Dropout      *float64 `hcl:"dropout,optional"`
	Seed         *int64   `hcl:"seed,optional"`
	LogEvery     *int     `hcl:"log_every,optional"`
}

type outputBlock struct {
	Artifact *string `hcl:"artifact,optional"`
	PlotsDir *string `hcl:"plots_dir,optional"`
}

// Load reads an HCL config file on top of Default. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	if err := cfg.decode(src, path); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

func (c *Config) decode(src []byte, filename string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return diags
	}

	var schema fileSchema
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &schema); diags.HasErrors() {
		return diags
	}

	if d := schema.Data; d != nil {
		setString(&c.Source, d.Source)
		setString(&c.Target, d.Target)
		setString(&c.Delimiter, d.Delimiter)
		setValue(&c.MinFeatures, d.MinFeatures)
		setValue(&c.TestFraction, d.TestFraction)
		setValue(&c.ValidationFraction, d.ValidationFraction)
	}
	if tr := schema.Train; tr != nil {
		setValue(&c.Epochs, tr.Epochs)
		setValue(&c.BatchSize, tr.BatchSize)
		setValue(&c.LearningRate, tr.LearningRate)
		setValue(&c.Dropout, tr.Dropout)
		setValue(&c.Seed, tr.Seed)
		setValue(&c.LogEvery, tr.LogEvery)
	}
	if o := schema.Output; o != nil {
		setString(&c.ArtifactPath, o.Artifact)
		setString(&c.PlotsDir, o.PlotsDir)
	}
	return nil
}

// evalContext exposes the process environment as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Source != "" {
		c.Source = o.Source
	}
	if o.Target != "" {
		c.Target = o.Target
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.ArtifactPath != "" {
		c.ArtifactPath = o.ArtifactPath
	}
	if o.PlotsDir != "" {
		c.PlotsDir = o.PlotsDir
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Source == "" {
		return errors.New("data source must be set")
	}
	if c.Target == "" {
		return errors.New("target column must be set")
	}
	if len([]rune(c.Delimiter)) > 1 {
		return errors.Errorf("delimiter must be a single character (got %q)", c.Delimiter)
	}
	if c.MinFeatures < 0 {
		return errors.Errorf("min_features must be >= 0 (got %d)", c.MinFeatures)
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return errors.Errorf("test_fraction must be in (0, 1) (got %g)", c.TestFraction)
	}
	if c.ValidationFraction <= 0 || c.ValidationFraction >= 1 {
		return errors.Errorf("validation_fraction must be in (0, 1) (got %g)", c.ValidationFraction)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	if c.ArtifactPath == "" {
		return errors.New("output artifact path must be set")
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
