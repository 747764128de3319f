// Package config provides YAML-based configuration loading for hypernet.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/krallin/hyper-02/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
	// AppName is the logical name reported in logs.
	AppName string `mapstructure:"app_name" validate:"required"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Server configures the listening side of `hypernet serve`.
	Server ServerConfig `mapstructure:"server"`

	// Client configures the dialing side of `hypernet ping`.
	Client ClientConfig `mapstructure:"client"`

	// Metrics controls the Prometheus endpoint.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	// Format: console or json
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" validate:"min=1,dive,required"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig describes the accept side.
type ServerConfig struct {
	Transport TransportConfig `mapstructure:"transport"`
	// Acceptors is the number of acceptor clones accepting concurrently.
	Acceptors int `mapstructure:"acceptors" validate:"min=1,max=256"`
	// Workers bounds the number of streams handled at once.
	Workers int `mapstructure:"workers" validate:"min=1"`
}

// ClientConfig describes the dial side.
type ClientConfig struct {
	Transport TransportConfig `mapstructure:"transport"`
	// TimeoutMS bounds connect plus one round trip.
	TimeoutMS int `mapstructure:"timeout_ms" validate:"min=1"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`
	Path   string `mapstructure:"path" validate:"startswith=/"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "hypernet",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/hypernet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Transport: TransportConfig{Kind: "tcp", Host: "127.0.0.1", Port: 7420},
			Acceptors: 4,
			Workers:   256,
		},
		Client: ClientConfig{
			Transport: TransportConfig{Kind: "tcp", Host: "127.0.0.1", Port: 7420},
			TimeoutMS: 5000,
		},
		Metrics: MetricsConfig{Enable: false, Listen: "127.0.0.1:9420", Path: "/metrics"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix HYPERNET and `.`/`-` are replaced with `_`.
// Example: HYPERNET_SERVER_TRANSPORT_PORT=9000
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HYPERNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	setTransportDefaults(v, "server.transport", cfg.Server.Transport)
	v.SetDefault("server.acceptors", cfg.Server.Acceptors)
	v.SetDefault("server.workers", cfg.Server.Workers)
	setTransportDefaults(v, "client.transport", cfg.Client.Transport)
	v.SetDefault("client.timeout_ms", cfg.Client.TimeoutMS)
	v.SetDefault("metrics.enable", cfg.Metrics.Enable)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("HYPERNET_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hypernet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hypernet"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setTransportDefaults(v *viper.Viper, prefix string, t TransportConfig) {
	v.SetDefault(prefix+".kind", t.Kind)
	v.SetDefault(prefix+".host", t.Host)
	v.SetDefault(prefix+".port", t.Port)
	v.SetDefault(prefix+".network", t.Network)
	v.SetDefault(prefix+".backlog", t.Backlog)
	v.SetDefault(prefix+".reuse_addr", t.ReuseAddr)
	v.SetDefault(prefix+".reuse_port", t.ReusePort)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("transport_kind", func(fl validator.FieldLevel) bool {
		return transport.ParseKind(fl.Field().String()) != transport.KindUnknown
	})
	return v
}

// Validate normalizes the configuration and checks it.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	c.Server.Transport.normalize()
	c.Client.Transport.normalize()

	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("invalid %s: %q fails %q", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
