// Package config holds the configuration of the sensord server.
//
// Every setting has a command line flag with a default. A YAML file given
// with -config.file is applied on top of the defaults, and flags set
// explicitly on the command line win over the file.
package config

import (
	"bytes"
	"flag"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root of the sensord configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Query       QueryConfig       `yaml:"query"`
	Passivation PassivationConfig `yaml:"passivation"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// AskTimeout bounds how long a handler waits for the registry. It must
	// exceed the longest aggregate read the API allows.
	AskTimeout time.Duration `yaml:"ask_timeout"`
}

// QueryConfig bounds aggregate reads.
type QueryConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

// PassivationConfig controls stopping of idle workers. An IdleTimeout of
// zero disables passivation.
type PassivationConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Server.RegisterFlags(f)
	cfg.Query.RegisterFlags(f)
	cfg.Passivation.RegisterFlags(f)
	cfg.Log.RegisterFlags(f)
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *ServerConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.ListenAddr, "server.listen-addr", getenv("SENSORD_ADDR", ":8080"), "Address the HTTP API listens on. Defaults to $SENSORD_ADDR when set.")
	f.DurationVar(&cfg.ReadHeaderTimeout, "server.read-header-timeout", 5*time.Second, "Maximum time to read request headers.")
	f.DurationVar(&cfg.ShutdownTimeout, "server.shutdown-timeout", 10*time.Second, "Maximum time to drain requests and stop all units on shutdown.")
	f.DurationVar(&cfg.AskTimeout, "server.ask-timeout", 70*time.Second, "Maximum time a request waits for the registry to answer.")
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *QueryConfig) RegisterFlags(f *flag.FlagSet) {
	f.DurationVar(&cfg.DefaultTimeout, "query.default-timeout", 3*time.Second, "Collection timeout of aggregate reads that do not ask for one.")
	f.DurationVar(&cfg.MaxTimeout, "query.max-timeout", time.Minute, "Upper bound for the collection timeout of aggregate reads.")
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *PassivationConfig) RegisterFlags(f *flag.FlagSet) {
	f.DurationVar(&cfg.IdleTimeout, "passivation.idle-timeout", 0, "Stop workers without reads or records for this long. 0 disables passivation.")
	f.DurationVar(&cfg.CheckInterval, "passivation.check-interval", 30*time.Second, "How often idle workers are looked for.")
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *LogConfig) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.Level, "log.level", "info", "Only log messages with the given severity or above. One of: debug, info, warn, error.")
	f.StringVar(&cfg.Format, "log.format", "logfmt", "Output log messages in the given format. One of: logfmt, json.")
}

// Validate checks the configuration for values the server cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("server.listen_addr must not be empty")
	}
	if cfg.Server.AskTimeout <= 0 {
		return errors.New("server.ask_timeout must be positive")
	}
	if cfg.Query.DefaultTimeout <= 0 {
		return errors.New("query.default_timeout must be positive")
	}
	if cfg.Query.MaxTimeout < cfg.Query.DefaultTimeout {
		return errors.Errorf("query.max_timeout (%s) must not be below query.default_timeout (%s)", cfg.Query.MaxTimeout, cfg.Query.DefaultTimeout)
	}
	if cfg.Server.AskTimeout <= cfg.Query.MaxTimeout {
		return errors.Errorf("server.ask_timeout (%s) must exceed query.max_timeout (%s)", cfg.Server.AskTimeout, cfg.Query.MaxTimeout)
	}
	if cfg.Passivation.IdleTimeout < 0 {
		return errors.New("passivation.idle_timeout must not be negative")
	}
	if cfg.Passivation.IdleTimeout > 0 && cfg.Passivation.CheckInterval <= 0 {
		return errors.New("passivation.check_interval must be positive when passivation is enabled")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log.level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("unknown log.format %q", cfg.Log.Format)
	}
	return nil
}

// LoadFile applies the YAML file at path on top of cfg. Unknown keys are
// an error.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, path)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}

// Parse builds a validated Config from command line arguments, without the
// program name.
func Parse(name string, args []string) (Config, error) {
	var (
		cfg        Config
		configFile string
	)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configFile, "config.file", "", "YAML file to load settings from.")
	cfg.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if configFile != "" {
		if err := LoadFile(configFile, &cfg); err != nil {
			return Config{}, err
		}
		// Parse again so explicit flags win over the file.
		if err := fs.Parse(args); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
