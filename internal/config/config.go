package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the top-level configuration read from configs/config.yaml.
type Config struct {
	Target    TargetConfig    `mapstructure:"target"`
	Search    SearchConfig    `mapstructure:"search"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Output    OutputConfig    `mapstructure:"output"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TargetConfig selects the program under test.
type TargetConfig struct {
	// Program is a YAML program descriptor.
	Program string `mapstructure:"program"`
	// Packages are Go package patterns loaded from Dir instead of Program.
	Packages []string `mapstructure:"packages"`
	Dir      string   `mapstructure:"dir"`
	// Methods to explore; empty means every method with a body.
	Methods []string `mapstructure:"methods"`
	// OverrideScope limits virtual call expansion to these class prefixes.
	OverrideScope []string `mapstructure:"override_scope"`
}

// SearchConfig holds the search driver settings.
type SearchConfig struct {
	Strategy            string        `mapstructure:"strategy" validate:"oneof=cfgds generational"`
	MaxFailedIterations int           `mapstructure:"max_failed_iterations" validate:"gte=0"`
	TimeLimit           time.Duration `mapstructure:"time_limit" validate:"gte=0"`
	InitialAttempts     int           `mapstructure:"initial_attempts" validate:"gte=0"`
	MaxNonImproving     int           `mapstructure:"max_non_improving" validate:"gte=0"`
	MaxSAPPaths         int           `mapstructure:"max_sap_paths" validate:"gte=0"`
	TieBreak            string        `mapstructure:"tie_break" validate:"oneof=random first"`
	Seed                uint64        `mapstructure:"seed"`
	Parallelism         int           `mapstructure:"parallelism" validate:"gte=0"`
	CallDepth           int           `mapstructure:"call_depth" validate:"gte=0"`
}

// OracleConfig selects the execution backends.
type OracleConfig struct {
	Solver       string                 `mapstructure:"solver" validate:"required"`
	Materializer string                 `mapstructure:"materializer" validate:"required"`
	Runner       string                 `mapstructure:"runner" validate:"required"`
	Timeout      time.Duration          `mapstructure:"timeout" validate:"gte=0"`
	Options      map[string]interface{} `mapstructure:"options"`
}

// OutputConfig controls where results are written.
type OutputConfig struct {
	Dir    string `mapstructure:"dir" validate:"required"`
	Report bool   `mapstructure:"report"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error fatal DEBUG INFO WARN WARNING ERROR FATAL"`
	// Dir enables a log file sink when set.
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	Traces      string `mapstructure:"traces" validate:"omitempty,oneof=none stdout"`
	Metrics     string `mapstructure:"metrics" validate:"omitempty,oneof=none stdout prometheus"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// Load reads a configuration file from the "configs" directory into a struct.
// The configName parameter should be the base name of the file without the extension (e.g., "config").
// The result parameter should be a pointer to a struct that the configuration will be unmarshaled into.
func Load(configName string, result interface{}) error {
	v := newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}

// LoadConfig loads configs/config.yaml with defaults applied.
func LoadConfig() (*Config, error) {
	return LoadNamed("config")
}

// LoadNamed loads configs/<configName>.yaml with defaults applied.
func LoadNamed(configName string) (*Config, error) {
	v := newViper(configName)
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are all well-typed; decoding them cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("search.strategy", "cfgds")
	v.SetDefault("search.max_failed_iterations", 20)
	v.SetDefault("search.time_limit", 30*time.Second)
	v.SetDefault("search.initial_attempts", 10)
	v.SetDefault("search.max_non_improving", 3)
	v.SetDefault("search.max_sap_paths", 32)
	v.SetDefault("search.tie_break", "random")
	v.SetDefault("search.seed", 0)
	v.SetDefault("search.parallelism", 1)
	v.SetDefault("search.call_depth", 4)

	v.SetDefault("oracle.solver", "enum")
	v.SetDefault("oracle.materializer", "direct")
	v.SetDefault("oracle.runner", "interp")
	v.SetDefault("oracle.timeout", 5*time.Second)

	v.SetDefault("output.dir", "cfgds_out")
	v.SetDefault("output.report", true)

	v.SetDefault("log.level", "info")

	v.SetDefault("telemetry.traces", "none")
	v.SetDefault("telemetry.metrics", "none")
}

// Validate checks enumerated settings and numeric ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsNotFound reports whether err means the config file does not exist.
func IsNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

func newViper(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	// 支持多路径查找
	v.AddConfigPath("configs")       // 当前工作目录下的configs
	v.AddConfigPath("../configs")    // 父目录下的configs（适配go test包内运行）
	v.AddConfigPath("../../configs") // 适配更深层次的包
	return v
}
