// Package config loads posestream run configuration from JSON or YAML.
// Every field is optional; the Get* methods supply defaults for unset
// fields, so partial files are safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/posestream/internal/control"
	"github.com/banshee-data/posestream/internal/engine"
	"github.com/banshee-data/posestream/internal/pose"
	"github.com/banshee-data/posestream/internal/source"
)

// ErrUnsupportedFormat is returned by Load for files that are neither
// JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// EngineConfig is the complete run configuration. Field names match the
// keys accepted in both file formats.
type EngineConfig struct {
	// Pipeline
	Mode          *string  `json:"mode,omitempty" yaml:"mode,omitempty"`                     // delay | rate
	OffsetSeconds *float64 `json:"offset_seconds,omitempty" yaml:"offset_seconds,omitempty"` // delay mode
	TargetHz      *float64 `json:"target_hz,omitempty" yaml:"target_hz,omitempty"`           // rate mode
	PoolSize      *int     `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	JointCount    *int     `json:"joint_count,omitempty" yaml:"joint_count,omitempty"`
	TickHz        *float64 `json:"tick_hz,omitempty" yaml:"tick_hz,omitempty"`

	// Rate gate
	BypassHz         *float64 `json:"bypass_hz,omitempty" yaml:"bypass_hz,omitempty"`
	ToleranceSeconds *float64 `json:"tolerance_seconds,omitempty" yaml:"tolerance_seconds,omitempty"`
	MinHz            *float64 `json:"min_hz,omitempty" yaml:"min_hz,omitempty"`

	// Controllers
	OffsetStep  *float64 `json:"offset_step,omitempty" yaml:"offset_step,omitempty"`
	HzStep      *float64 `json:"hz_step,omitempty" yaml:"hz_step,omitempty"`
	MinTargetHz *float64 `json:"min_target_hz,omitempty" yaml:"min_target_hz,omitempty"`
	MaxTargetHz *float64 `json:"max_target_hz,omitempty" yaml:"max_target_hz,omitempty"`

	// Source
	NativeHz *float64            `json:"native_hz,omitempty" yaml:"native_hz,omitempty"`
	Duration *string             `json:"duration,omitempty" yaml:"duration,omitempty"` // duration string like "10s"
	Seed     *int64              `json:"seed,omitempty" yaml:"seed,omitempty"`
	Serial   *source.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`

	// Session schedule: "", "frequency" or "offset"
	Session           *string  `json:"session,omitempty" yaml:"session,omitempty"`
	ConditionDuration *string  `json:"condition_duration,omitempty" yaml:"condition_duration,omitempty"` // time per condition, like "10s"
	OffsetMax         *float64 `json:"offset_max,omitempty" yaml:"offset_max,omitempty"`                 // largest offset an offset session visits

	// Outputs
	LogDir     *string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	LogPrefix  *string `json:"log_prefix,omitempty" yaml:"log_prefix,omitempty"`
	SQLitePath *string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	PlotPath   *string `json:"plot_path,omitempty" yaml:"plot_path,omitempty"`
	ChartPath  *string `json:"chart_path,omitempty" yaml:"chart_path,omitempty"`
}

// Load reads an EngineConfig from a .json, .yaml or .yml file and validates
// it.
func Load(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EngineConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *EngineConfig) Validate() error {
	if c.Mode != nil {
		if _, err := engine.ParseMode(*c.Mode); err != nil {
			return err
		}
	}
	if c.OffsetSeconds != nil && !(*c.OffsetSeconds >= 0) {
		return fmt.Errorf("offset_seconds must be non-negative, got %g", *c.OffsetSeconds)
	}
	if c.TargetHz != nil && !(*c.TargetHz > 0) {
		return fmt.Errorf("target_hz must be positive, got %g", *c.TargetHz)
	}
	if c.PoolSize != nil && *c.PoolSize < 0 {
		return fmt.Errorf("pool_size must be non-negative, got %d", *c.PoolSize)
	}
	if c.JointCount != nil && *c.JointCount <= 0 {
		return fmt.Errorf("joint_count must be positive, got %d", *c.JointCount)
	}
	for name, v := range map[string]*float64{
		"tick_hz":   c.TickHz,
		"native_hz": c.NativeHz,
	} {
		if v != nil && !(*v > 0 && !math.IsInf(*v, 1)) {
			return fmt.Errorf("%s must be positive, got %g", name, *v)
		}
	}
	if c.Duration != nil && *c.Duration != "" {
		if _, err := time.ParseDuration(*c.Duration); err != nil {
			return fmt.Errorf("invalid duration '%s': %w", *c.Duration, err)
		}
	}
	if c.ConditionDuration != nil && *c.ConditionDuration != "" {
		d, err := time.ParseDuration(*c.ConditionDuration)
		if err != nil {
			return fmt.Errorf("invalid condition_duration '%s': %w", *c.ConditionDuration, err)
		}
		if d <= 0 {
			return fmt.Errorf("condition_duration must be positive, got %s", d)
		}
	}
	if c.OffsetMax != nil && !(*c.OffsetMax >= 0) {
		return fmt.Errorf("offset_max must be non-negative, got %g", *c.OffsetMax)
	}
	if c.Session != nil {
		switch *c.Session {
		case "", "frequency", "offset":
		default:
			return fmt.Errorf("session must be frequency or offset, got %q", *c.Session)
		}
	}
	switch c.GetSession() {
	case "frequency":
		if c.GetMode() != engine.ModeRate {
			return fmt.Errorf("a frequency session needs rate mode")
		}
	case "offset":
		if c.GetMode() != engine.ModeDelay {
			return fmt.Errorf("an offset session needs delay mode")
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if err := c.GetGateConfig().Validate(); err != nil {
		return err
	}
	if c.OffsetStep != nil && !(*c.OffsetStep > 0) {
		return fmt.Errorf("offset_step must be positive, got %g", *c.OffsetStep)
	}
	if _, err := control.NewFrequencyController(c.GetFrequencyConfig()); err != nil {
		return err
	}
	return nil
}

// GetMode returns the pipeline mode or the default (delay).
func (c *EngineConfig) GetMode() engine.Mode {
	if c.Mode == nil {
		return engine.ModeDelay
	}
	return engine.Mode(*c.Mode)
}

// GetOffsetSeconds returns the initial delay offset or the default (0).
func (c *EngineConfig) GetOffsetSeconds() float64 {
	if c.OffsetSeconds == nil {
		return 0
	}
	return *c.OffsetSeconds
}

// GetTargetHz returns the initial rate target or the default.
func (c *EngineConfig) GetTargetHz() float64 {
	if c.TargetHz == nil {
		return control.DefaultHz
	}
	return *c.TargetHz
}

// GetPoolSize returns the pool_size value or the default.
func (c *EngineConfig) GetPoolSize() int {
	if c.PoolSize == nil || *c.PoolSize == 0 {
		return pose.DefaultPoolSize
	}
	return *c.PoolSize
}

// GetJointCount returns the joint_count value or the default.
func (c *EngineConfig) GetJointCount() int {
	if c.JointCount == nil {
		return pose.DefaultJointCount
	}
	return *c.JointCount
}

// GetTickHz returns the render tick rate or the default (90).
func (c *EngineConfig) GetTickHz() float64 {
	if c.TickHz == nil {
		return 90
	}
	return *c.TickHz
}

// GetNativeHz returns the synthetic source rate or the default (90).
func (c *EngineConfig) GetNativeHz() float64 {
	if c.NativeHz == nil {
		return 90
	}
	return *c.NativeHz
}

// GetDuration returns the run length; zero means until interrupted or the
// source ends.
func (c *EngineConfig) GetDuration() time.Duration {
	if c.Duration == nil || *c.Duration == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Duration)
	if err != nil {
		return 0
	}
	return d
}

// GetSeed returns the seed for the synthetic source and session shuffles.
func (c *EngineConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetSession returns the session schedule kind, "" for none.
func (c *EngineConfig) GetSession() string {
	if c.Session == nil {
		return ""
	}
	return *c.Session
}

// GetConditionDuration returns how long each session condition runs, or
// the default (10s).
func (c *EngineConfig) GetConditionDuration() time.Duration {
	if c.ConditionDuration == nil || *c.ConditionDuration == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.ConditionDuration)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetOffsetMax returns the largest offset of an offset session, or the
// default (0.1s).
func (c *EngineConfig) GetOffsetMax() float64 {
	if c.OffsetMax == nil {
		return 0.1
	}
	return *c.OffsetMax
}

// GetSerial returns the serial port options with defaults applied.
func (c *EngineConfig) GetSerial() source.PortOptions {
	var opts source.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	if n, err := opts.Normalise(); err == nil {
		return n
	}
	return opts
}

// GetGateConfig returns the rate gate thresholds, each falling back to the
// gate default.
func (c *EngineConfig) GetGateConfig() engine.GateConfig {
	g := engine.DefaultGateConfig()
	if c.BypassHz != nil {
		g.BypassHz = *c.BypassHz
	}
	if c.ToleranceSeconds != nil {
		g.Tolerance = *c.ToleranceSeconds
	}
	if c.MinHz != nil {
		g.MinHz = *c.MinHz
	}
	return g
}

// GetOffsetStep returns the delay controller step or the default.
func (c *EngineConfig) GetOffsetStep() float64 {
	if c.OffsetStep == nil {
		return control.DefaultOffsetStep
	}
	return *c.OffsetStep
}

// GetFrequencyConfig returns the frequency controller settings; unset
// fields take the controller defaults.
func (c *EngineConfig) GetFrequencyConfig() control.FrequencyConfig {
	fc := control.FrequencyConfig{InitialHz: c.GetTargetHz()}
	if c.HzStep != nil {
		fc.Step = *c.HzStep
	}
	if c.MinTargetHz != nil {
		fc.MinHz = *c.MinTargetHz
	}
	if c.MaxTargetHz != nil {
		fc.MaxHz = *c.MaxTargetHz
	}
	return fc
}

// GetLogDir returns the CSV log directory or the default ("logs").
func (c *EngineConfig) GetLogDir() string {
	if c.LogDir == nil || *c.LogDir == "" {
		return "logs"
	}
	return *c.LogDir
}

// GetLogPrefix returns the CSV file prefix, defaulting to the mode name.
func (c *EngineConfig) GetLogPrefix() string {
	if c.LogPrefix == nil || *c.LogPrefix == "" {
		return string(c.GetMode())
	}
	return *c.LogPrefix
}

// GetSQLitePath returns the record database path, "" to disable.
func (c *EngineConfig) GetSQLitePath() string { return deref(c.SQLitePath) }

// GetPlotPath returns the PNG plot path, "" to disable.
func (c *EngineConfig) GetPlotPath() string { return deref(c.PlotPath) }

// GetChartPath returns the HTML chart path, "" to disable.
func (c *EngineConfig) GetChartPath() string { return deref(c.ChartPath) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
