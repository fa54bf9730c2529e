package main

import (
	"fmt"
	"os"

	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	"git.fiblab.net/sim/synthesis/location/algo"
	"gopkg.in/yaml.v3"
)

type RelaxationConfig struct {
	Alpha             float64 `yaml:"alpha"`
	Eps               float64 `yaml:"eps"`
	LateralDeviation  float64 `yaml:"lateral_deviation"`
	MaximumIterations int     `yaml:"maximum_iterations"`
}

// Config 流水线配置，对应synthesis.yml
type Config struct {
	// 热卡匹配
	MinimumSourceSamples int      `yaml:"minimum_source_samples"`
	MandatoryFields      []string `yaml:"mandatory_fields"`
	PreferenceFields     []string `yaml:"preference_fields"`
	WeightedMatching     bool     `yaml:"weighted_matching"`
	// 表中的编号与权重列
	IDColumn     string `yaml:"id_column"`
	WeightColumn string `yaml:"weight_column"`

	// 次要活动地点
	MaximumIterations        int                `yaml:"maximum_iterations"`
	SamplerMaximumIterations int                `yaml:"sampler_maximum_iterations"`
	Relaxation               RelaxationConfig   `yaml:"relaxation"`
	Thresholds               map[string]float64 `yaml:"thresholds"`
	ResamplingFactors        map[string]float64 `yaml:"resampling_factors"`

	RandomSeed int64 `yaml:"random_seed"`
	// 非正数表示全部CPU
	Processes int `yaml:"processes"`
}

func DefaultConfig() *Config {
	l := location.DefaultConfig()
	return &Config{
		MinimumSourceSamples:     hotdeck.DEFAULT_MINIMUM_SOURCE_SAMPLES,
		MandatoryFields:          []string{"age_class", "sex", "binary_car_availability", "employment"},
		PreferenceFields:         []string{"residence_area_index"},
		IDColumn:                 "person_id",
		WeightColumn:             "weight",
		MaximumIterations:        l.MaximumIterations,
		SamplerMaximumIterations: l.SamplerMaximumIterations,
		Relaxation: RelaxationConfig{
			Alpha:             l.Relaxation.Alpha,
			Eps:               l.Relaxation.Eps,
			LateralDeviation:  l.Relaxation.LateralDeviation,
			MaximumIterations: l.Relaxation.MaximumIterations,
		},
		Thresholds:        l.Thresholds,
		ResamplingFactors: l.ResamplingFactors,
	}
}

// LoadConfig 读取YAML文件覆盖默认值，路径为空时返回默认值
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(c.MandatoryFields)+len(c.PreferenceFields) == 0 {
		return nil, fmt.Errorf("%s: %w", path, hotdeck.ErrNoFields)
	}
	return c, nil
}

func (c *Config) Fields() []string {
	return append(append([]string(nil), c.MandatoryFields...), c.PreferenceFields...)
}

func (c *Config) MatcherOptions() hotdeck.MatcherOptions {
	return hotdeck.MatcherOptions{
		MinimumSourceSamples: c.MinimumSourceSamples,
		Weighted:             c.WeightedMatching,
	}
}

func (c *Config) LocationConfig() location.Config {
	return location.Config{
		Workers:                  c.Processes,
		Seed:                     c.RandomSeed,
		MaximumIterations:        c.MaximumIterations,
		SamplerMaximumIterations: c.SamplerMaximumIterations,
		Relaxation: algo.GravityChainSolver{
			Alpha:             c.Relaxation.Alpha,
			Eps:               c.Relaxation.Eps,
			LateralDeviation:  c.Relaxation.LateralDeviation,
			MaximumIterations: c.Relaxation.MaximumIterations,
		},
		Thresholds:        c.Thresholds,
		ResamplingFactors: c.ResamplingFactors,
	}
}
