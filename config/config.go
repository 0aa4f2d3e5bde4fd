// Package config loads the daemon and client configuration from a TOML or
// YAML file. Keys absent from the file keep their defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/CrimsonAS/qcomponent/logging"
	"github.com/CrimsonAS/qcomponent/wire"
)

type Config struct {
	Server ServerConfig
	Client ClientConfig
	Log    logging.Config
}

// ServerConfig selects the transports qcomponentd serves. An empty address
// disables the transport.
type ServerConfig struct {
	Name    string
	Version int
	// HTTPListen serves HTTP requests on HTTPPath and websockets on WSPath.
	HTTPListen      string
	HTTPPath        string
	WSPath          string
	NATSURL         string
	NATSSubject     string
	MetricsListen   string
	Stdio           bool
	ShutdownTimeout time.Duration
}

type ClientConfig struct {
	URL           string
	Version       int
	Codec         string
	Timeout       time.Duration
	MaxRetries    int
	MinRetryDelay time.Duration
	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:            "movies",
			HTTPListen:      ":8080",
			HTTPPath:        "/query",
			WSPath:          "/ws",
			NATSSubject:     "qcomponent",
			MetricsListen:   ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			URL:           "http://localhost:8080/query",
			Codec:         wire.JSON.Name(),
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			MinRetryDelay: time.Second,
			RateBurst:     1,
		},
		Log: logging.DefaultConfig(logging.ProfileRuntime),
	}
}

// file mirrors the configuration file. Durations are strings such as "1.5s".
type file struct {
	Server serverFile `toml:"server" yaml:"server"`
	Client clientFile `toml:"client" yaml:"client"`
	Log    logFile    `toml:"log" yaml:"log"`
}

type serverFile struct {
	Name            string `toml:"name" yaml:"name"`
	Version         int    `toml:"version" yaml:"version"`
	HTTPListen      string `toml:"http_listen" yaml:"http_listen"`
	HTTPPath        string `toml:"http_path" yaml:"http_path"`
	WSPath          string `toml:"ws_path" yaml:"ws_path"`
	NATSURL         string `toml:"nats_url" yaml:"nats_url"`
	NATSSubject     string `toml:"nats_subject" yaml:"nats_subject"`
	MetricsListen   string `toml:"metrics_listen" yaml:"metrics_listen"`
	Stdio           bool   `toml:"stdio" yaml:"stdio"`
	ShutdownTimeout string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type clientFile struct {
	URL           string  `toml:"url" yaml:"url"`
	Version       int     `toml:"version" yaml:"version"`
	Codec         string  `toml:"codec" yaml:"codec"`
	Timeout       string  `toml:"timeout" yaml:"timeout"`
	MaxRetries    int     `toml:"max_retries" yaml:"max_retries"`
	MinRetryDelay string  `toml:"min_retry_delay" yaml:"min_retry_delay"`
	RateLimit     float64 `toml:"rate_limit" yaml:"rate_limit"`
	RateBurst     int     `toml:"rate_burst" yaml:"rate_burst"`
}

type logFile struct {
	Level     string `toml:"level" yaml:"level"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp"`
	NoColor   bool   `toml:"no_color" yaml:"no_color"`
}

func fileOf(cfg Config) file {
	return file{
		Server: serverFile{
			Name:            cfg.Server.Name,
			Version:         cfg.Server.Version,
			HTTPListen:      cfg.Server.HTTPListen,
			HTTPPath:        cfg.Server.HTTPPath,
			WSPath:          cfg.Server.WSPath,
			NATSURL:         cfg.Server.NATSURL,
			NATSSubject:     cfg.Server.NATSSubject,
			MetricsListen:   cfg.Server.MetricsListen,
			Stdio:           cfg.Server.Stdio,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.String(),
		},
		Client: clientFile{
			URL:           cfg.Client.URL,
			Version:       cfg.Client.Version,
			Codec:         cfg.Client.Codec,
			Timeout:       cfg.Client.Timeout.String(),
			MaxRetries:    cfg.Client.MaxRetries,
			MinRetryDelay: cfg.Client.MinRetryDelay.String(),
			RateLimit:     cfg.Client.RateLimit,
			RateBurst:     cfg.Client.RateBurst,
		},
		Log: logFile{
			Level:     cfg.Log.Level,
			Timestamp: cfg.Log.Timestamp,
			NoColor:   cfg.Log.NoColor,
		},
	}
}

// Load reads path, choosing the format by extension: .toml, or .yaml and
// .yml. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = loadTOML(path, &cfg)
	case ".yaml", ".yml":
		err = loadYAML(path, &cfg)
	default:
		err = fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config.Load: %s: %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string, cfg *Config) error {
	var raw file
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return raw.apply(cfg, meta.IsDefined)
}

// loadYAML decodes over the defaults, so every key counts as defined.
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	raw := fileOf(*cfg)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return raw.apply(cfg, func(...string) bool { return true })
}

func (f file) apply(cfg *Config, defined func(key ...string) bool) error {
	s := f.Server
	if defined("server", "name") {
		cfg.Server.Name = strings.TrimSpace(s.Name)
	}
	if defined("server", "version") {
		cfg.Server.Version = s.Version
	}
	if defined("server", "http_listen") {
		cfg.Server.HTTPListen = strings.TrimSpace(s.HTTPListen)
	}
	if defined("server", "http_path") {
		cfg.Server.HTTPPath = strings.TrimSpace(s.HTTPPath)
	}
	if defined("server", "ws_path") {
		cfg.Server.WSPath = strings.TrimSpace(s.WSPath)
	}
	if defined("server", "nats_url") {
		cfg.Server.NATSURL = strings.TrimSpace(s.NATSURL)
	}
	if defined("server", "nats_subject") {
		cfg.Server.NATSSubject = strings.TrimSpace(s.NATSSubject)
	}
	if defined("server", "metrics_listen") {
		cfg.Server.MetricsListen = strings.TrimSpace(s.MetricsListen)
	}
	if defined("server", "stdio") {
		cfg.Server.Stdio = s.Stdio
	}
	if defined("server", "shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(s.ShutdownTimeout))
		if err != nil {
			return fmt.Errorf("server.shutdown_timeout: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	c := f.Client
	if defined("client", "url") {
		cfg.Client.URL = strings.TrimSpace(c.URL)
	}
	if defined("client", "version") {
		cfg.Client.Version = c.Version
	}
	if defined("client", "codec") {
		cfg.Client.Codec = strings.ToLower(strings.TrimSpace(c.Codec))
	}
	if defined("client", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
		if err != nil {
			return fmt.Errorf("client.timeout: %w", err)
		}
		cfg.Client.Timeout = d
	}
	if defined("client", "max_retries") {
		cfg.Client.MaxRetries = c.MaxRetries
	}
	if defined("client", "min_retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(c.MinRetryDelay))
		if err != nil {
			return fmt.Errorf("client.min_retry_delay: %w", err)
		}
		cfg.Client.MinRetryDelay = d
	}
	if defined("client", "rate_limit") {
		cfg.Client.RateLimit = c.RateLimit
	}
	if defined("client", "rate_burst") {
		cfg.Client.RateBurst = c.RateBurst
	}

	l := f.Log
	if defined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(l.Level)
	}
	if defined("log", "timestamp") {
		cfg.Log.Timestamp = l.Timestamp
	}
	if defined("log", "no_color") {
		cfg.Log.NoColor = l.NoColor
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (cfg Config) Validate() error {
	if cfg.Server.Version < 0 || cfg.Client.Version < 0 {
		return fmt.Errorf("versions cannot be negative")
	}
	if cfg.Server.HTTPListen != "" && !strings.HasPrefix(cfg.Server.HTTPPath, "/") {
		return fmt.Errorf("server.http_path must start with '/', got %q", cfg.Server.HTTPPath)
	}
	if cfg.Server.WSPath != "" && !strings.HasPrefix(cfg.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with '/', got %q", cfg.Server.WSPath)
	}
	if cfg.Server.WSPath != "" && cfg.Server.WSPath == cfg.Server.HTTPPath {
		return fmt.Errorf("server.ws_path and server.http_path must differ")
	}
	if cfg.Server.NATSURL != "" && cfg.Server.NATSSubject == "" {
		return fmt.Errorf("server.nats_subject is required with server.nats_url")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if _, err := wire.CodecNamed(cfg.Client.Codec); err != nil {
		return fmt.Errorf("client.codec: %w", err)
	}
	if cfg.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries cannot be negative")
	}
	if cfg.Client.MinRetryDelay < 0 {
		return fmt.Errorf("client.min_retry_delay cannot be negative")
	}
	if cfg.Client.RateLimit < 0 {
		return fmt.Errorf("client.rate_limit cannot be negative")
	}
	if cfg.Client.RateLimit > 0 && cfg.Client.RateBurst < 1 {
		return fmt.Errorf("client.rate_burst must be at least 1 when client.rate_limit is set")
	}
	return nil
}
