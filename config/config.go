// Package config loads umqtt client settings from a YAML file.
//
// Environment variables override the file: UMQTT_BROKER, UMQTT_CLIENT_ID,
// UMQTT_USERNAME and UMQTT_PASSWORD.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vitalvas/umqtt"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration.
type Config struct {
	Broker       string          `yaml:"broker"`
	ClientID     string          `yaml:"client_id"`
	Username     string          `yaml:"username"`
	Password     string          `yaml:"password"`
	KeepAlive    uint16          `yaml:"keepalive"`
	CleanSession bool            `yaml:"clean_session"`
	Proxy        string          `yaml:"proxy"`
	Timeouts     TimeoutConfig   `yaml:"timeouts"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
	Will         *WillConfig     `yaml:"will"`
	Logging      LoggingConfig   `yaml:"logging"`
}

// TimeoutConfig bounds the blocking waits. Zero waits forever.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Ack     time.Duration `yaml:"ack"`
}

// ReconnectConfig configures the reconnect supervisor.
type ReconnectConfig struct {
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Strategy    string        `yaml:"strategy"`
}

// WillConfig is the last will message.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// LoggingConfig selects the log level written to stderr.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// proxyFromEnv selects the proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
const proxyFromEnv = "env"

// Load reads, overrides and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Broker:       "localhost:1883",
		KeepAlive:    60,
		CleanSession: true,
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Delay:    time.Second,
			Strategy: "linear",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UMQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := os.Getenv("UMQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("UMQTT_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("UMQTT_PASSWORD"); v != "" {
		cfg.Password = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Broker == "" {
		errs = append(errs, "broker is required")
	} else if _, err := umqtt.ParseAddress(c.Broker); err != nil {
		errs = append(errs, fmt.Sprintf("broker: %v", err))
	}

	if c.Password != "" && c.Username == "" {
		errs = append(errs, "password requires username")
	}

	if c.Timeouts.Connect < 0 || c.Timeouts.Ack < 0 {
		errs = append(errs, "timeouts must not be negative")
	}

	if c.Reconnect.Delay <= 0 {
		errs = append(errs, "reconnect.delay must be positive")
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts must not be negative")
	}
	if _, err := c.backoff(); err != nil {
		errs = append(errs, err.Error())
	}

	if w := c.Will; w != nil {
		if err := umqtt.ValidateTopicName(w.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("will.topic: %v", err))
		}
		if w.QoS > umqtt.QoS2 {
			errs = append(errs, "will.qos must be 0, 1, or 2")
		}
	}

	if _, err := umqtt.ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) backoff() (umqtt.BackoffStrategy, error) {
	switch c.Reconnect.Strategy {
	case "", "linear":
		return umqtt.LinearBackoff, nil
	case "exponential":
		return umqtt.ExponentialBackoff, nil
	default:
		return nil, fmt.Errorf("reconnect.strategy %q is not linear or exponential", c.Reconnect.Strategy)
	}
}

// Options converts the configuration into client options. Logs go to w.
func (c *Config) Options(w io.Writer) ([]umqtt.Option, error) {
	level, err := umqtt.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	backoff, err := c.backoff()
	if err != nil {
		return nil, err
	}

	opts := []umqtt.Option{
		umqtt.WithClientID(c.ClientID),
		umqtt.WithKeepAlive(c.KeepAlive),
		umqtt.WithCleanSession(c.CleanSession),
		umqtt.WithConnectTimeout(c.Timeouts.Connect),
		umqtt.WithAckTimeout(c.Timeouts.Ack),
		umqtt.WithReconnectDelay(c.Reconnect.Delay),
		umqtt.WithMaxReconnectDelay(c.Reconnect.MaxDelay),
		umqtt.WithMaxReconnects(c.Reconnect.MaxAttempts),
		umqtt.WithBackoffStrategy(backoff),
		umqtt.WithLogger(umqtt.NewStdLogger(w, level)),
	}

	switch {
	case c.Password != "":
		opts = append(opts, umqtt.WithCredentials(c.Username, c.Password))
	case c.Username != "":
		opts = append(opts, umqtt.WithUsername(c.Username))
	}

	switch c.Proxy {
	case "":
	case proxyFromEnv:
		opts = append(opts, umqtt.WithProxyFromEnv())
	default:
		opts = append(opts, umqtt.WithProxy(umqtt.ProxyConfig{URL: c.Proxy}))
	}

	return opts, nil
}

// NewClient builds a client from the configuration and applies the will.
// Extra options are applied after the configured ones.
func (c *Config) NewClient(w io.Writer, extra ...umqtt.Option) (*umqtt.Client, error) {
	opts, err := c.Options(w)
	if err != nil {
		return nil, err
	}

	client := umqtt.NewClient(append(opts, extra...)...)

	if will := c.Will; will != nil {
		if err := client.SetLastWill(will.Topic, []byte(will.Payload), will.Retain, will.QoS); err != nil {
			return nil, err
		}
	}

	return client, nil
}
