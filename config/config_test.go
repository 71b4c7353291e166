package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/umqtt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "umqtt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
broker: tls://broker.example.com
client_id: switch-01
username: device
password: secret
keepalive: 30
clean_session: false
timeouts:
  connect: 5s
  ack: 2s
reconnect:
  delay: 500ms
  max_delay: 30s
  max_attempts: 10
  strategy: exponential
will:
  topic: devices/switch-01/status
  payload: offline
  qos: 1
  retain: true
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tls://broker.example.com", cfg.Broker)
	assert.Equal(t, "switch-01", cfg.ClientID)
	assert.Equal(t, uint16(30), cfg.KeepAlive)
	assert.False(t, cfg.CleanSession)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Ack)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.Delay)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	require.NotNil(t, cfg.Will)
	assert.Equal(t, "offline", cfg.Will.Payload)
	assert.Equal(t, byte(1), cfg.Will.QoS)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "client_id: sensor\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Broker, cfg.Broker)
	assert.Equal(t, def.KeepAlive, cfg.KeepAlive)
	assert.True(t, cfg.CleanSession)
	assert.Equal(t, time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, 0, cfg.Reconnect.MaxAttempts)
	assert.Nil(t, cfg.Will)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("broker: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UMQTT_BROKER", "ws://override:8080/mqtt")
	t.Setenv("UMQTT_CLIENT_ID", "from-env")
	t.Setenv("UMQTT_USERNAME", "env-user")
	t.Setenv("UMQTT_PASSWORD", "env-pass")

	cfg, err := Parse([]byte("broker: localhost\nclient_id: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "ws://override:8080/mqtt", cfg.Broker)
	assert.Equal(t, "from-env", cfg.ClientID)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, "env-pass", cfg.Password)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(_ *Config) {}, ""},
		{"empty broker", func(c *Config) { c.Broker = "" }, "broker is required"},
		{"bad scheme", func(c *Config) { c.Broker = "gopher://host" }, "broker:"},
		{"password without username", func(c *Config) { c.Password = "x" }, "password requires username"},
		{"negative timeout", func(c *Config) { c.Timeouts.Ack = -time.Second }, "timeouts must not be negative"},
		{"zero delay", func(c *Config) { c.Reconnect.Delay = 0 }, "reconnect.delay must be positive"},
		{"negative attempts", func(c *Config) { c.Reconnect.MaxAttempts = -1 }, "reconnect.max_attempts"},
		{"unknown strategy", func(c *Config) { c.Reconnect.Strategy = "random" }, "reconnect.strategy"},
		{"will wildcard", func(c *Config) { c.Will = &WillConfig{Topic: "a/#"} }, "will.topic"},
		{"will qos", func(c *Config) { c.Will = &WillConfig{Topic: "a", QoS: 3} }, "will.qos"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Broker = ""
	cfg.Reconnect.Delay = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker is required")
	assert.Contains(t, err.Error(), "reconnect.delay must be positive")
}

func TestNewClient(t *testing.T) {
	cfg := Default()
	cfg.ClientID = "cfg-client"
	cfg.Username = "user"
	cfg.Will = &WillConfig{Topic: "devices/cfg-client", Payload: "gone", QoS: 1}

	var logs bytes.Buffer
	client, err := cfg.NewClient(&logs)
	require.NoError(t, err)

	assert.Equal(t, "cfg-client", client.ClientID())
	assert.Equal(t, umqtt.StatusDisconnected, client.Status())
}

func TestNewClientGeneratesID(t *testing.T) {
	client, err := Default().NewClient(&bytes.Buffer{})
	require.NoError(t, err)

	assert.NotEmpty(t, client.ClientID())
	assert.LessOrEqual(t, len(client.ClientID()), 23)
}

func TestOptionsProxy(t *testing.T) {
	tests := []struct {
		name  string
		proxy string
	}{
		{"none", ""},
		{"environment", "env"},
		{"explicit", "socks5://127.0.0.1:1080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Proxy = tt.proxy

			opts, err := cfg.Options(&bytes.Buffer{})
			require.NoError(t, err)
			assert.NotEmpty(t, opts)
		})
	}
}
