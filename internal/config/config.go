// Package config holds lspawn's settings and loads them from a file and the
// environment.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// config file (TOML or YAML by extension), LSPAWN_* environment variables.
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/argv"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/config/loader"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/logging"
	"github.com/textmagus/textmagus-3rdparty-lspawn/internal/process"
)

// Config is the complete configuration.
type Config struct {
	Reactor ReactorConfig
	Logging LoggingConfig
	Lua     LuaConfig
	Output  OutputConfig
}

// ReactorConfig configures the process reactor.
type ReactorConfig struct {
	// Strategy is auto, event or poll.
	Strategy     string
	Interval     time.Duration
	ChunkSize    int
	MaxProcesses int
	// Parser is simple or shell.
	Parser string
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string
	// File receives log output instead of stderr when set.
	File string
}

// LuaConfig configures the script host.
type LuaConfig struct {
	Capabilities []string
	// Timeout bounds a single script run; zero is unlimited.
	Timeout time.Duration
}

// OutputConfig configures how child output is shown.
type OutputConfig struct {
	// Format is text or json.
	Format string
	// Encoding names the charset child output is decoded from.
	Encoding string
	// Color is auto, always or never.
	Color string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Reactor: ReactorConfig{
			Strategy:  "auto",
			Interval:  process.DefaultInterval,
			ChunkSize: process.DefaultChunkSize,
			Parser:    "simple",
		},
		Logging: LoggingConfig{Level: "warn"},
		Lua: LuaConfig{
			Capabilities: []string{"process.spawn", "shell"},
		},
		Output: OutputConfig{
			Format:   "text",
			Encoding: "utf-8",
			Color:    "auto",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty or the file is missing) and the environment.
func Load(path string) (*Config, error) {
	var sources []loader.Loader
	if path != "" {
		fl, err := loader.ForPath(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fl)
	}
	sources = append(sources, loader.NewEnvLoader(loader.DefaultEnvPrefix))
	return LoadFrom(sources...)
}

// LoadFrom builds a Config from defaults and the given sources.
func LoadFrom(sources ...loader.Loader) (*Config, error) {
	merged := make(map[string]any)
	for _, src := range sources {
		m, err := src.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg := Default()
	if err := cfg.Apply(merged); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overlays the values present in m.
func (c *Config) Apply(m map[string]any) error {
	v := values{m: m}
	v.str("reactor.strategy", &c.Reactor.Strategy)
	v.duration("reactor.interval", &c.Reactor.Interval)
	v.int("reactor.chunkSize", &c.Reactor.ChunkSize)
	v.int("reactor.maxProcesses", &c.Reactor.MaxProcesses)
	v.str("reactor.parser", &c.Reactor.Parser)
	v.str("logging.level", &c.Logging.Level)
	v.str("logging.file", &c.Logging.File)
	v.strings("lua.capabilities", &c.Lua.Capabilities)
	v.duration("lua.timeout", &c.Lua.Timeout)
	v.str("output.format", &c.Output.Format)
	v.str("output.encoding", &c.Output.Encoding)
	v.str("output.color", &c.Output.Color)
	return v.err
}

// Validate checks every enumerated and numeric setting.
func (c *Config) Validate() error {
	if _, err := process.ParseStrategy(c.Reactor.Strategy); err != nil {
		return &ValidationError{Key: "reactor.strategy", Value: c.Reactor.Strategy, Err: err}
	}
	if _, err := argv.ParseParser(c.Reactor.Parser); err != nil {
		return &ValidationError{Key: "reactor.parser", Value: c.Reactor.Parser, Err: err}
	}
	if c.Reactor.Interval <= 0 {
		return &ValidationError{Key: "reactor.interval", Value: c.Reactor.Interval, Err: errMustBePositive}
	}
	if c.Reactor.ChunkSize <= 0 {
		return &ValidationError{Key: "reactor.chunkSize", Value: c.Reactor.ChunkSize, Err: errMustBePositive}
	}
	if c.Reactor.MaxProcesses < 0 {
		return &ValidationError{Key: "reactor.maxProcesses", Value: c.Reactor.MaxProcesses, Err: errNegative}
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return &ValidationError{Key: "logging.level", Value: c.Logging.Level, Err: errUnknownValue}
	}
	if err := oneOf("output.format", c.Output.Format, "text", "json"); err != nil {
		return err
	}
	return oneOf("output.color", c.Output.Color, "auto", "always", "never")
}

// ReactorOptions converts the reactor settings to process options.
func (c *Config) ReactorOptions(logger *logging.Logger) ([]process.Option, error) {
	strategy, err := process.ParseStrategy(c.Reactor.Strategy)
	if err != nil {
		return nil, err
	}
	parser, err := argv.ParseParser(c.Reactor.Parser)
	if err != nil {
		return nil, err
	}
	return []process.Option{
		process.WithStrategy(strategy),
		process.WithInterval(c.Reactor.Interval),
		process.WithChunkSize(c.Reactor.ChunkSize),
		process.WithMaxProcesses(c.Reactor.MaxProcesses),
		process.WithParser(parser),
		process.WithLogger(logger),
	}, nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return &ValidationError{
		Key:   key,
		Value: value,
		Err:   fmt.Errorf("%w: want one of %s", errUnknownValue, strings.Join(allowed, ", ")),
	}
}
