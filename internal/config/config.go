package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GCS_UPSTREAM_URL.
const EnvPrefix = "GCS"

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`   // empty: stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type BackoffConfig struct {
	Initial   time.Duration `mapstructure:"initial"`
	Max       time.Duration `mapstructure:"max"`
	MinUptime time.Duration `mapstructure:"min_uptime"`
	Jitter    float64       `mapstructure:"jitter"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	Topic       string `mapstructure:"topic"`
	ClientID    string `mapstructure:"client_id"`
	QoS         int    `mapstructure:"qos"`
	Username    string `mapstructure:"username"`
	PasswordEnv string `mapstructure:"password_env"` // e.g. GCS_MQTT_PASSWORD
}

type UpstreamConfig struct {
	Transport   string        `mapstructure:"transport"` // websocket or mqtt
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MQTT        MQTTConfig    `mapstructure:"mqtt"`
	Backoff     BackoffConfig `mapstructure:"backoff"`
}

type DecoderConfig struct {
	StrictCodes bool `mapstructure:"strict_codes"`
}

type BufferConfig struct {
	Capacity       int `mapstructure:"capacity"`
	RawLogCapacity int `mapstructure:"raw_log_capacity"`
}

type HubConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type LinkConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Interface        string        `mapstructure:"interface"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Count            int           `mapstructure:"count"`
	Privileged       bool          `mapstructure:"privileged"`
	RTTThresholdMs   int           `mapstructure:"rtt_threshold_ms"`
	LossThresholdPct int           `mapstructure:"loss_threshold_pct"`
	FailCount        int           `mapstructure:"fail_count"`
}

type ForwarderConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Sink               string        `mapstructure:"sink"` // kafka or http
	Brokers            []string      `mapstructure:"brokers"`
	Topic              string        `mapstructure:"topic"`
	BackendURL         string        `mapstructure:"backend_url"`
	AuthTokenEnv       string        `mapstructure:"auth_token_env"` // e.g. GCS_ARCHIVE_TOKEN
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	BatchSize          int           `mapstructure:"batch_size"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	QueueSize          int           `mapstructure:"queue_size"`
}

type SimulatorConfig struct {
	ListenAddr    string        `mapstructure:"listen_addr"`
	Interval      time.Duration `mapstructure:"interval"`
	Encoding      string        `mapstructure:"encoding"` // json or msgpack
	MalformedRate float64       `mapstructure:"malformed_rate"`
	Seed          int64         `mapstructure:"seed"`
}

type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Hub       HubConfig       `mapstructure:"hub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Link      LinkConfig      `mapstructure:"link"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.transport", "websocket")
	v.SetDefault("upstream.url", "ws://localhost:8080/ws")
	v.SetDefault("upstream.dial_timeout", 5*time.Second)
	v.SetDefault("upstream.read_timeout", 10*time.Second)
	v.SetDefault("upstream.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("upstream.mqtt.topic", "gcs/telemetry")
	v.SetDefault("upstream.mqtt.client_id", "")
	v.SetDefault("upstream.mqtt.qos", 0)
	v.SetDefault("upstream.mqtt.username", "")
	v.SetDefault("upstream.mqtt.password_env", "GCS_MQTT_PASSWORD")
	v.SetDefault("upstream.backoff.initial", time.Second)
	v.SetDefault("upstream.backoff.max", 30*time.Second)
	v.SetDefault("upstream.backoff.min_uptime", 10*time.Second)
	v.SetDefault("upstream.backoff.jitter", 0.0)

	v.SetDefault("decoder.strict_codes", true)

	v.SetDefault("buffer.capacity", 50)
	v.SetDefault("buffer.raw_log_capacity", 10)

	v.SetDefault("hub.queue_size", 64)

	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.ping_interval", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)

	v.SetDefault("link.enabled", false)
	v.SetDefault("link.host", "")
	v.SetDefault("link.interface", "")
	v.SetDefault("link.interval", 30*time.Second)
	v.SetDefault("link.timeout", 5*time.Second)
	v.SetDefault("link.count", 5)
	v.SetDefault("link.privileged", false)
	v.SetDefault("link.rtt_threshold_ms", 200)
	v.SetDefault("link.loss_threshold_pct", 20)
	v.SetDefault("link.fail_count", 2)

	v.SetDefault("forwarder.enabled", false)
	v.SetDefault("forwarder.sink", "http")
	v.SetDefault("forwarder.brokers", []string{"localhost:9092"})
	v.SetDefault("forwarder.topic", "gcs.telemetry")
	v.SetDefault("forwarder.backend_url", "")
	v.SetDefault("forwarder.auth_token_env", "GCS_ARCHIVE_TOKEN")
	v.SetDefault("forwarder.insecure_skip_verify", false)
	v.SetDefault("forwarder.batch_size", 100)
	v.SetDefault("forwarder.flush_interval", 5*time.Second)
	v.SetDefault("forwarder.timeout", 5*time.Second)
	v.SetDefault("forwarder.max_attempts", 5)
	v.SetDefault("forwarder.queue_size", 1000)

	v.SetDefault("simulator.listen_addr", ":8080")
	v.SetDefault("simulator.interval", 500*time.Millisecond)
	v.SetDefault("simulator.encoding", "json")
	v.SetDefault("simulator.malformed_rate", 0.0)
	v.SetDefault("simulator.seed", 0)
}

// LoadConfig reads path (YAML) on top of the defaults. An empty path skips
// the file and uses defaults plus GCS_* environment overrides only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// env overrides: GCS_UPSTREAM_URL, GCS_SERVER_LISTEN_ADDR etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Upstream.Transport {
	case "websocket":
		if c.Upstream.URL == "" {
			bad("upstream.url is required for the websocket transport")
		}
	case "mqtt":
		if c.Upstream.MQTT.Broker == "" {
			bad("upstream.mqtt.broker is required for the mqtt transport")
		}
		if c.Upstream.MQTT.Topic == "" {
			bad("upstream.mqtt.topic is required for the mqtt transport")
		}
		if c.Upstream.MQTT.QoS < 0 || c.Upstream.MQTT.QoS > 2 {
			bad("upstream.mqtt.qos must be 0, 1 or 2, got %d", c.Upstream.MQTT.QoS)
		}
	default:
		bad("upstream.transport must be websocket or mqtt, got %q", c.Upstream.Transport)
	}
	if c.Upstream.Backoff.Initial <= 0 {
		bad("upstream.backoff.initial must be positive")
	}
	if c.Upstream.Backoff.Max < c.Upstream.Backoff.Initial {
		bad("upstream.backoff.max must not be below upstream.backoff.initial")
	}
	if c.Upstream.Backoff.Jitter < 0 || c.Upstream.Backoff.Jitter > 1 {
		bad("upstream.backoff.jitter must be within 0..1")
	}

	if c.Buffer.Capacity < 1 {
		bad("buffer.capacity must be at least 1")
	}
	if c.Buffer.RawLogCapacity < 1 {
		bad("buffer.raw_log_capacity must be at least 1")
	}
	if c.Hub.QueueSize < 1 {
		bad("hub.queue_size must be at least 1")
	}
	if c.Server.ListenAddr == "" {
		bad("server.listen_addr is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		bad("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Link.Enabled {
		if c.Link.Host == "" {
			bad("link.host is required when link.enabled")
		}
		if c.Link.Interval <= 0 {
			bad("link.interval must be positive")
		}
	}

	if c.Forwarder.Enabled {
		switch c.Forwarder.Sink {
		case "kafka":
			if len(c.Forwarder.Brokers) == 0 || c.Forwarder.Topic == "" {
				bad("forwarder.brokers and forwarder.topic are required for the kafka sink")
			}
		case "http":
			if c.Forwarder.BackendURL == "" {
				bad("forwarder.backend_url is required for the http sink")
			}
		default:
			bad("forwarder.sink must be kafka or http, got %q", c.Forwarder.Sink)
		}
		if c.Forwarder.BatchSize < 1 {
			bad("forwarder.batch_size must be at least 1")
		}
		if c.Forwarder.MaxAttempts < 1 {
			bad("forwarder.max_attempts must be at least 1")
		}
	}

	switch c.Simulator.Encoding {
	case "json", "msgpack":
	default:
		bad("simulator.encoding must be json or msgpack, got %q", c.Simulator.Encoding)
	}
	if c.Simulator.MalformedRate < 0 || c.Simulator.MalformedRate > 1 {
		bad("simulator.malformed_rate must be within 0..1")
	}

	return errors.Join(errs...)
}
