package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/agenthub/pkg/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix  = "AGENTHUB"
	configName = "agenthub"
	configType = "yaml"
)

// Config is the effective agenthub configuration
type Config struct {
	ListenAddr string         `mapstructure:"listen_addr" yaml:"listen_addr"`
	DataDir    string         `mapstructure:"data_dir" yaml:"data_dir"`
	Persist    bool           `mapstructure:"persist" yaml:"persist"`
	Log        LogConfig      `mapstructure:"log" yaml:"log"`
	Registry   RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Hub        HubConfig      `mapstructure:"hub" yaml:"hub"`
	Auth       AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type RegistryConfig struct {
	MaxTranscriptEvents int `mapstructure:"max_transcript_events" yaml:"max_transcript_events"`
}

type HubConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}

type AuthConfig struct {
	// TokenDB defaults to tokens.db inside DataDir
	TokenDB  string `mapstructure:"token_db" yaml:"token_db"`
	Disabled bool   `mapstructure:"disabled" yaml:"disabled"`
}

// flagKeys maps command-line flag names to config keys
var flagKeys = map[string]string{
	"listen":     "listen_addr",
	"data-dir":   "data_dir",
	"persist":    "persist",
	"log-level":  "log.level",
	"log-json":   "log.json",
	"no-auth":    "auth.disabled",
	"token-db":   "auth.token_db",
	"max-events": "registry.max_transcript_events",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:7420")
	v.SetDefault("data_dir", "./agenthub-data")
	v.SetDefault("persist", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("registry.max_transcript_events", 10000)
	v.SetDefault("hub.request_timeout", 30*time.Second)
	v.SetDefault("hub.sweep_interval", 5*time.Second)
	v.SetDefault("hub.send_buffer", 256)
	v.SetDefault("hub.max_message_bytes", 1<<20)
	v.SetDefault("auth.token_db", "")
	v.SetDefault("auth.disabled", false)
}

// Load layers defaults, the config file, AGENTHUB_* environment variables
// and changed flags, in increasing priority. With an empty path the file is
// looked up as agenthub.yaml in the working directory and is optional.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Auth.TokenDB == "" {
		cfg.Auth.TokenDB = filepath.Join(cfg.DataDir, "tokens.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if !log.Level(c.Log.Level).Valid() {
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if c.Registry.MaxTranscriptEvents <= 0 {
		return fmt.Errorf("registry.max_transcript_events must be positive, got %d", c.Registry.MaxTranscriptEvents)
	}
	if c.Hub.RequestTimeout <= 0 {
		return fmt.Errorf("hub.request_timeout must be positive, got %s", c.Hub.RequestTimeout)
	}
	if c.Hub.SweepInterval <= 0 {
		return fmt.Errorf("hub.sweep_interval must be positive, got %s", c.Hub.SweepInterval)
	}
	if c.Hub.SendBuffer <= 0 {
		return fmt.Errorf("hub.send_buffer must be positive, got %d", c.Hub.SendBuffer)
	}
	return nil
}

// YAML renders the configuration as a YAML document
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
