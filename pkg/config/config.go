// Package config loads skillloop settings from viper (config file, env,
// flags) into typed structs, with named profiles layered on top of the base
// configuration.
package config

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/cadencehq/skillloop/pkg/confidence"
	"github.com/cadencehq/skillloop/pkg/experiments"
	"github.com/cadencehq/skillloop/pkg/loop"
	"github.com/cadencehq/skillloop/pkg/staleness"
	"github.com/cadencehq/skillloop/pkg/synthesis"
)

// Config is the full skillloop configuration.
type Config struct {
	DBPath    string `mapstructure:"db_path"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Confidence  ConfidenceConfig  `mapstructure:"confidence"`
	Staleness   StalenessConfig   `mapstructure:"staleness"`
	Experiments ExperimentsConfig `mapstructure:"experiments"`
	Synthesis   SynthesisConfig   `mapstructure:"synthesis"`

	// Profile selects a named override set from Profiles.
	Profile  string                   `mapstructure:"profile"`
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

// ProfileConfig is a partial configuration layered over the base config.
// Zero values in a profile leave the base value in place.
type ProfileConfig map[string]interface{}

// ConfidenceConfig mirrors confidence.Config with file-friendly fields.
type ConfidenceConfig struct {
	Alpha          float64 `mapstructure:"alpha"`
	EvidenceWeight float64 `mapstructure:"evidence_weight"`
	WindowCount    int     `mapstructure:"window_count"`
	WindowDays     int     `mapstructure:"window_days"`
	PriorDecay     float64 `mapstructure:"prior_decay"`
}

// StalenessConfig mirrors staleness.Config.
type StalenessConfig struct {
	DeclineMargin    float64 `mapstructure:"decline_margin"`
	ConfidenceFloor  float64 `mapstructure:"confidence_floor"`
	IdleDays         int     `mapstructure:"idle_days"`
	RecentWindow     int     `mapstructure:"recent_window"`
	MinRecentSamples int     `mapstructure:"min_recent_samples"`
	TrendMargin      float64 `mapstructure:"trend_margin"`
}

// ExperimentsConfig mirrors experiments.Config.
type ExperimentsConfig struct {
	SplitPercent        int     `mapstructure:"split_percent"`
	MinSampleSize       int     `mapstructure:"min_sample_size"`
	Alpha               float64 `mapstructure:"alpha"`
	MinDetectableEffect float64 `mapstructure:"min_detectable_effect"`
	MaxDurationDays     int     `mapstructure:"max_duration_days"`
	PriorDecay          float64 `mapstructure:"prior_decay"`
}

// SynthesisConfig mirrors synthesis.Config.
type SynthesisConfig struct {
	WindowDays     int     `mapstructure:"window_days"`
	MinClusterSize int     `mapstructure:"min_cluster_size"`
	MinUplift      float64 `mapstructure:"min_uplift"`
	MaxCandidates  int     `mapstructure:"max_candidates"`
	ConfidenceCap  float64 `mapstructure:"confidence_cap"`
}

// SetDefaults registers every configuration default with viper. Call once
// before viper reads files or the environment.
func SetDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")

	cc := confidence.DefaultConfig()
	viper.SetDefault("confidence.alpha", cc.Alpha)
	viper.SetDefault("confidence.evidence_weight", cc.EvidenceWeight)
	viper.SetDefault("confidence.window_count", cc.WindowCount)
	viper.SetDefault("confidence.window_days", days(cc.WindowAge))
	viper.SetDefault("confidence.prior_decay", cc.PriorDecay)

	sc := staleness.DefaultConfig()
	viper.SetDefault("staleness.decline_margin", sc.DeclineMargin)
	viper.SetDefault("staleness.confidence_floor", sc.ConfidenceFloor)
	viper.SetDefault("staleness.idle_days", days(sc.IdleThreshold))
	viper.SetDefault("staleness.recent_window", sc.RecentWindow)
	viper.SetDefault("staleness.min_recent_samples", sc.MinRecentSamples)
	viper.SetDefault("staleness.trend_margin", sc.TrendMargin)

	ec := experiments.DefaultConfig()
	viper.SetDefault("experiments.split_percent", ec.SplitPercent)
	viper.SetDefault("experiments.min_sample_size", ec.MinSampleSize)
	viper.SetDefault("experiments.alpha", ec.Alpha)
	viper.SetDefault("experiments.min_detectable_effect", ec.MinDetectableEffect)
	viper.SetDefault("experiments.max_duration_days", days(ec.MaxDuration))
	viper.SetDefault("experiments.prior_decay", ec.PriorDecay)

	yc := synthesis.DefaultConfig()
	viper.SetDefault("synthesis.window_days", days(yc.Window))
	viper.SetDefault("synthesis.min_cluster_size", yc.MinClusterSize)
	viper.SetDefault("synthesis.min_uplift", yc.MinUplift)
	viper.SetDefault("synthesis.max_candidates", yc.MaxCandidates)
	viper.SetDefault("synthesis.confidence_cap", yc.ConfidenceCap)
}

// FromViper unmarshals the effective viper state into a Config and applies
// the active profile, if any, on top.
func FromViper() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if cfg.Profiles != nil {
		delete(cfg.Profiles, "default")
	}

	name := cfg.Profile
	if name != "" && name != "default" {
		profile, ok := cfg.Profiles[name]
		if !ok {
			return cfg, errors.Errorf("unknown profile %q", name)
		}
		if err := applyProfile(&cfg, profile); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// applyProfile layers a profile's values over the config. Fields the
// profile leaves out keep their base values.
func applyProfile(cfg *Config, profile ProfileConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}
	if err := decoder.Decode(map[string]interface{}(profile)); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}
	return nil
}

// LoopConfig converts the file-friendly fields into the tuning structs the
// learning-cycle packages consume.
func (c Config) LoopConfig() loop.Config {
	return loop.Config{
		Confidence: confidence.Config{
			Alpha:          c.Confidence.Alpha,
			EvidenceWeight: c.Confidence.EvidenceWeight,
			WindowCount:    c.Confidence.WindowCount,
			WindowAge:      duration(c.Confidence.WindowDays),
			PriorDecay:     c.Confidence.PriorDecay,
		},
		Staleness: staleness.Config{
			DeclineMargin:    c.Staleness.DeclineMargin,
			ConfidenceFloor:  c.Staleness.ConfidenceFloor,
			IdleThreshold:    duration(c.Staleness.IdleDays),
			RecentWindow:     c.Staleness.RecentWindow,
			MinRecentSamples: c.Staleness.MinRecentSamples,
			TrendMargin:      c.Staleness.TrendMargin,
		},
		Experiments: experiments.Config{
			SplitPercent:        c.Experiments.SplitPercent,
			MinSampleSize:       c.Experiments.MinSampleSize,
			Alpha:               c.Experiments.Alpha,
			MinDetectableEffect: c.Experiments.MinDetectableEffect,
			MaxDuration:         duration(c.Experiments.MaxDurationDays),
			PriorDecay:          c.Experiments.PriorDecay,
		},
		Synthesis: synthesis.Config{
			Window:         duration(c.Synthesis.WindowDays),
			MinClusterSize: c.Synthesis.MinClusterSize,
			MinUplift:      c.Synthesis.MinUplift,
			MaxCandidates:  c.Synthesis.MaxCandidates,
			ConfidenceCap:  c.Synthesis.ConfidenceCap,
		},
	}
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}

func duration(d int) time.Duration {
	return time.Duration(d) * 24 * time.Hour
}
