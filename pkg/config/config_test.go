package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7420", cfg.ListenAddr)
	assert.Equal(t, "./agenthub-data", cfg.DataDir)
	assert.True(t, cfg.Persist)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10000, cfg.Registry.MaxTranscriptEvents)
	assert.Equal(t, 30*time.Second, cfg.Hub.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Hub.SweepInterval)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
	assert.Equal(t, int64(1<<20), cfg.Hub.MaxMessageBytes)
	assert.Equal(t, filepath.Join("agenthub-data", "tokens.db"), cfg.Auth.TokenDB)
	assert.False(t, cfg.Auth.Disabled)
}

func TestLoad_Layering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agenthub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: 127.0.0.1:9000
data_dir: /var/lib/agenthub
log:
  level: debug
hub:
  request_timeout: 45s
  send_buffer: 64
`), 0644))

	t.Setenv("AGENTHUB_HUB_SEND_BUFFER", "128")
	t.Setenv("AGENTHUB_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("listen", "", "")
	require.NoError(t, flags.Set("log-level", "error"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr, "file beats default, unchanged flag ignored")
	assert.Equal(t, "/var/lib/agenthub", cfg.DataDir)
	assert.Equal(t, 45*time.Second, cfg.Hub.RequestTimeout)
	assert.Equal(t, 128, cfg.Hub.SendBuffer, "env beats file")
	assert.Equal(t, "error", cfg.Log.Level, "flag beats env")
	assert.Equal(t, "/var/lib/agenthub/tokens.db", cfg.Auth.TokenDB)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ListenAddr: "127.0.0.1:7420",
			DataDir:    "data",
			Log:        LogConfig{Level: "info"},
			Registry:   RegistryConfig{MaxTranscriptEvents: 10},
			Hub:        HubConfig{RequestTimeout: time.Second, SweepInterval: time.Second, SendBuffer: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"zero max events", func(c *Config) { c.Registry.MaxTranscriptEvents = 0 }},
		{"zero timeout", func(c *Config) { c.Hub.RequestTimeout = 0 }},
		{"negative sweep", func(c *Config) { c.Hub.SweepInterval = -time.Second }},
		{"zero send buffer", func(c *Config) { c.Hub.SendBuffer = 0 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	data, err := cfg.YAML()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "127.0.0.1:7420", decoded["listen_addr"])
	hub := decoded["hub"].(map[string]any)
	assert.Equal(t, "30s", hub["request_timeout"])
}
