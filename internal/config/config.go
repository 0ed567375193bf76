// Package config handles configuration loading from CLI flags, environment
// variables, and TOML or YAML files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the host.
type Config struct {
	Galaxy  GalaxyConfig  `toml:"galaxy" yaml:"galaxy"`
	Lua     LuaConfig     `toml:"lua" yaml:"lua"`
	Frame   FrameConfig   `toml:"frame" yaml:"frame"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	logger *logiface.Logger[logiface.Event]
	output io.Writer
}

// GalaxyConfig holds platform connection settings. ClientID and
// ClientSecret are used when the script's config.lua does not set them.
type GalaxyConfig struct {
	URL          string   `toml:"url" yaml:"url"`
	ClientID     string   `toml:"client_id" yaml:"client_id"`
	ClientSecret string   `toml:"client_secret" yaml:"client_secret"`
	Timeout      Duration `toml:"timeout" yaml:"timeout"`
	MockAddr     string   `toml:"mock_addr" yaml:"mock_addr"`
}

// LuaConfig holds Lua runtime settings.
type LuaConfig struct {
	Path        string `toml:"path" yaml:"path"`               // script directory
	Main        string `toml:"main" yaml:"main"`               // entry script, relative to Path
	Environment string `toml:"environment" yaml:"environment"` // "device" or "simulator"
	HotLoad     bool   `toml:"hotload" yaml:"hotload"`
}

// FrameConfig holds the frame cadence.
type FrameConfig struct {
	Rate int `toml:"rate" yaml:"rate"` // frames per second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level"`         // "trace", "debug", "info", "warning", "err"
	Verbosity int    `toml:"verbosity" yaml:"verbosity"` // 0=quiet, 1=lifecycle, 2=events, 3=frames
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && strings.Trim(arg[1:], "v") == "" {
			for range arg[1:] {
				result = append(result, "-v")
			}
			continue
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from config strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Galaxy: GalaxyConfig{
			URL:      "ws://127.0.0.1:8910/galaxy",
			Timeout:  Duration(5 * time.Second),
			MockAddr: "127.0.0.1:8910",
		},
		Lua: LuaConfig{
			Path:        "lua/",
			Main:        "main.lua",
			Environment: "device",
		},
		Frame: FrameConfig{
			Rate: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and the
// config file. Priority: CLI flags > env vars > file > defaults.
// Remaining positional arguments are returned.
func Load(args []string) (*Config, []string, error) {
	cfg := DefaultConfig()
	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("galaxy-lua", flag.ContinueOnError)
	dir := fs.String("dir", "", "Project directory holding config/ and the script directory")
	configFile := fs.String("config", "", "Config file (.toml, .yaml or .yml)")

	url := fs.String("url", "", "Platform websocket URL")
	clientID := fs.String("client-id", "", "Fallback client id")
	clientSecret := fs.String("client-secret", "", "Fallback client secret")
	timeout := fs.Duration("timeout", 0, "Platform request timeout")
	mockAddr := fs.String("mock-addr", "", "Mock platform listen address")

	luaPath := fs.String("lua-path", "", "Lua scripts directory")
	luaMain := fs.String("main", "", "Entry script")
	environment := fs.String("environment", "", "Reported environment: device or simulator")
	hotload := fs.Bool("hotload", false, "Reload the script when it changes")

	frameRate := fs.Int("fps", 0, "Frames per second")

	logLevel := fs.String("log-level", "", "Log level: trace, debug, info, warning, err")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := cfg.loadFile(*dir, *configFile); err != nil {
		return nil, nil, err
	}
	cfg.applyEnv()

	if *url != "" {
		cfg.Galaxy.URL = *url
	}
	if *clientID != "" {
		cfg.Galaxy.ClientID = *clientID
	}
	if *clientSecret != "" {
		cfg.Galaxy.ClientSecret = *clientSecret
	}
	if *timeout != 0 {
		cfg.Galaxy.Timeout = Duration(*timeout)
	}
	if *mockAddr != "" {
		cfg.Galaxy.MockAddr = *mockAddr
	}
	if *luaPath != "" {
		cfg.Lua.Path = *luaPath
	}
	if *luaMain != "" {
		cfg.Lua.Main = *luaMain
	}
	if *environment != "" {
		cfg.Lua.Environment = *environment
	}
	if *hotload {
		cfg.Lua.HotLoad = true
	}
	if *frameRate != 0 {
		cfg.Frame.Rate = *frameRate
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}
	if *dir != "" && !filepath.IsAbs(cfg.Lua.Path) {
		cfg.Lua.Path = filepath.Join(*dir, cfg.Lua.Path)
	}

	return cfg, fs.Args(), nil
}

// loadFile loads the explicit config file, or else config/config.toml or
// config/config.yaml under dir. A missing default file is not an error.
func (c *Config) loadFile(dir, explicit string) error {
	if explicit != "" {
		return c.decodeFile(explicit)
	}
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		err := c.decodeFile(filepath.Join(dir, "config", name))
		if err == nil || !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Config) decodeFile(path string) error {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	default:
		if _, err := toml.DecodeFile(path, c); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return err
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	}
}

// applyEnv applies GALAXY_* environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("GALAXY_URL"); v != "" {
		c.Galaxy.URL = v
	}
	if v := os.Getenv("GALAXY_CLIENT_ID"); v != "" {
		c.Galaxy.ClientID = v
	}
	if v := os.Getenv("GALAXY_CLIENT_SECRET"); v != "" {
		c.Galaxy.ClientSecret = v
	}
	if v := os.Getenv("GALAXY_TIMEOUT"); v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			c.Galaxy.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("GALAXY_MOCK_ADDR"); v != "" {
		c.Galaxy.MockAddr = v
	}
	if v := os.Getenv("GALAXY_LUA_PATH"); v != "" {
		c.Lua.Path = v
	}
	if v := os.Getenv("GALAXY_LUA_MAIN"); v != "" {
		c.Lua.Main = v
	}
	if v := os.Getenv("GALAXY_ENVIRONMENT"); v != "" {
		c.Lua.Environment = v
	}
	if v := os.Getenv("GALAXY_HOTLOAD"); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			c.Lua.HotLoad = b
		}
	}
	if v := os.Getenv("GALAXY_FPS"); v != "" {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			c.Frame.Rate = n
		}
	}
	if v := os.Getenv("GALAXY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GALAXY_VERBOSITY"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			c.Logging.Verbosity = n
		}
	}
}

// FrameInterval returns the time between frames.
func (c *Config) FrameInterval() time.Duration {
	if c.Frame.Rate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.Frame.Rate)
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// SetOutput directs log output to w. It must be called before Logger.
func (c *Config) SetOutput(w io.Writer) {
	c.output = w
}

// Logger returns the structured logger, built on first use.
func (c *Config) Logger() *logiface.Logger[logiface.Event] {
	if c.logger == nil {
		out := c.output
		if out == nil {
			out = os.Stderr
		}
		c.logger = stumpy.L.New(
			stumpy.L.WithStumpy(stumpy.WithWriter(out)),
			stumpy.L.WithLevel(ParseLevel(c.Logging.Level)),
		).Logger()
	}
	return c.logger
}

// Log writes a verbosity-gated message: level 0 always logs, higher levels
// need at least that many -v flags.
func (c *Config) Log(level int, format string, args ...any) {
	if c.Logging.Verbosity < level {
		return
	}
	c.Logger().Notice().Int("v", level).Logf(format, args...)
}

// ParseLevel maps a level name to a logiface level, defaulting to info.
func ParseLevel(name string) logiface.Level {
	switch strings.ToLower(name) {
	case "trace":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "info", "":
		return logiface.LevelInformational
	case "notice":
		return logiface.LevelNotice
	case "warn", "warning":
		return logiface.LevelWarning
	case "err", "error":
		return logiface.LevelError
	case "off", "none", "disabled":
		return logiface.LevelDisabled
	}
	return logiface.LevelInformational
}
