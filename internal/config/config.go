// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/scroller/pkg/scroller"
)

// ErrInvalidSink is returned when recorder.sink names an unknown journal sink.
var ErrInvalidSink = errors.New("unknown recorder sink")

// Journal sinks understood by recorder.sink.
const (
	SinkNone     = "none"
	SinkJSONL    = "jsonl"
	SinkPostgres = "postgres"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Scroller() ScrollerConfig
	Browser() BrowserConfig
	Simulation() SimulationConfig
	Recorder() RecorderConfig
	Database() DatabaseConfig

	SetBrowserHeadless(bool)
	SetScrollerOffset(float64)
	SetRecorderSink(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	ScrollerCfg   ScrollerConfig   `mapstructure:"scroller" yaml:"scroller"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	SimulationCfg SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	RecorderCfg   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Scroller() ScrollerConfig     { return c.ScrollerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Simulation() SimulationConfig { return c.SimulationCfg }
func (c *Config) Recorder() RecorderConfig     { return c.RecorderCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetScrollerOffset(o float64) { c.ScrollerCfg.Offset = o }
func (c *Config) SetRecorderSink(s string)    { c.RecorderCfg.Sink = s }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ScrollerConfig configures every engine the CLI creates.
type ScrollerConfig struct {
	// Offset is the trigger line position as a fraction of the viewport height.
	Offset float64 `mapstructure:"offset" yaml:"offset"`
	// Nudge is added to Offset when the trigger band is built.
	Nudge    float64 `mapstructure:"nudge" yaml:"nudge"`
	Progress bool    `mapstructure:"progress" yaml:"progress"`
	// Variant selects the event vocabulary: "namespaced" or "plain".
	Variant string `mapstructure:"variant" yaml:"variant"`
}

// BrowserConfig holds settings for the Chrome instance used by watch.
type BrowserConfig struct {
	Headless          bool             `mapstructure:"headless" yaml:"headless"`
	ExecPath          string           `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string         `mapstructure:"args" yaml:"args"`
	ViewportWidth     int              `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int              `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration    `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SceneSelector     string           `mapstructure:"scene_selector" yaml:"scene_selector"`
	ContainerSelector string           `mapstructure:"container_selector" yaml:"container_selector"`
	AutoScroll        AutoScrollConfig `mapstructure:"auto_scroll" yaml:"auto_scroll"`
}

// AutoScrollConfig drives the page from Go at a fixed pace.
type AutoScrollConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	Step    float64 `mapstructure:"step" yaml:"step"`
	// Rate is the number of scroll steps per second.
	Rate  float64 `mapstructure:"rate" yaml:"rate"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
	// Steps bounds the run; zero scrolls until the context ends.
	Steps int `mapstructure:"steps" yaml:"steps"`
}

// SimulationConfig configures the simulate command's virtual viewport.
type SimulationConfig struct {
	Fixture        string    `mapstructure:"fixture" yaml:"fixture"`
	SceneXPath     string    `mapstructure:"scene_xpath" yaml:"scene_xpath"`
	ContainerXPath string    `mapstructure:"container_xpath" yaml:"container_xpath"`
	ViewportHeight float64   `mapstructure:"viewport_height" yaml:"viewport_height"`
	Positions      []float64 `mapstructure:"positions" yaml:"positions"`
	// Step sweeps the whole document when no positions are given.
	Step float64 `mapstructure:"step" yaml:"step"`
}

// RecorderConfig configures the transition journal.
type RecorderConfig struct {
	Sink       string `mapstructure:"sink" yaml:"sink"`
	Path       string `mapstructure:"path" yaml:"path"`
	BatchSize  int    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scroller")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Scroller --
	v.SetDefault("scroller.offset", scroller.DefaultOffset)
	v.SetDefault("scroller.nudge", 0.0)
	v.SetDefault("scroller.progress", false)
	v.SetDefault("scroller.variant", "namespaced")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.scene_selector", ".scene")
	v.SetDefault("browser.container_selector", "")
	v.SetDefault("browser.auto_scroll.enabled", true)
	v.SetDefault("browser.auto_scroll.step", 120.0)
	v.SetDefault("browser.auto_scroll.rate", 8.0)
	v.SetDefault("browser.auto_scroll.burst", 1)
	v.SetDefault("browser.auto_scroll.steps", 0)

	// -- Simulation --
	v.SetDefault("simulation.fixture", "")
	v.SetDefault("simulation.scene_xpath", "//*[contains(concat(' ', normalize-space(@class), ' '), ' scene ')]")
	v.SetDefault("simulation.container_xpath", "")
	v.SetDefault("simulation.viewport_height", 800.0)
	v.SetDefault("simulation.step", 100.0)

	// -- Recorder --
	v.SetDefault("recorder.sink", SinkNone)
	v.SetDefault("recorder.path", "scroller-journal.jsonl")
	v.SetDefault("recorder.batch_size", 64)
	v.SetDefault("recorder.max_size", 50)
	v.SetDefault("recorder.max_backups", 3)
	v.SetDefault("recorder.max_age", 14)
	v.SetDefault("recorder.compress", false)

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("database.url", "SCROLLER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every file path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.LoggerCfg.LogFile, &c.SimulationCfg.Fixture, &c.RecorderCfg.Path, &c.BrowserCfg.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if _, ok := scroller.ParseVariant(c.ScrollerCfg.Variant); !ok {
		return fmt.Errorf("scroller.variant must be \"namespaced\" or \"plain\", got %q", c.ScrollerCfg.Variant)
	}
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive integers")
	}
	if err := c.BrowserCfg.AutoScroll.Validate(); err != nil {
		return fmt.Errorf("browser.auto_scroll configuration invalid: %w", err)
	}
	if c.SimulationCfg.ViewportHeight <= 0 {
		return fmt.Errorf("simulation.viewport_height must be positive")
	}
	if err := c.RecorderCfg.Validate(); err != nil {
		return fmt.Errorf("recorder configuration invalid: %w", err)
	}
	if c.RecorderCfg.Sink == SinkPostgres && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when recorder.sink is %q", SinkPostgres)
	}
	return nil
}

// Validate checks the auto-scroll settings.
func (a *AutoScrollConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.Rate <= 0 {
		return fmt.Errorf("rate must be greater than 0")
	}
	if a.Burst <= 0 {
		return fmt.Errorf("burst must be greater than 0")
	}
	if a.Step == 0 {
		return fmt.Errorf("step must not be 0")
	}
	return nil
}

// Validate checks the recorder settings.
func (r *RecorderConfig) Validate() error {
	switch r.Sink {
	case SinkNone, "":
		return nil
	case SinkJSONL:
		if r.Path == "" {
			return fmt.Errorf("path is required for the %s sink", SinkJSONL)
		}
	case SinkPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSink, r.Sink)
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be a positive integer")
	}
	return nil
}
