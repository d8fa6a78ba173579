package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"owl-loadshed/common/config"

	"github.com/BurntSushi/toml"
)

// 遥测来源
const (
	TelemetryMQTT = "mqtt"
	TelemetryHTTP = "http"
)

// Config 减载服务配置
// 加载顺序：默认值 -> CONFIG_FILE (TOML) -> 环境变量
type Config struct {
	Database config.DatabaseConfig `toml:"database"`
	Redis    config.RedisConfig    `toml:"redis"`
	MQTT     config.MQTTConfig     `toml:"mqtt"`

	Telemetry struct {
		Source       string        `toml:"source"`        // mqtt | http
		Topic        string        `toml:"topic"`         // 如 "powerSources/#"
		HTTPURL      string        `toml:"http_url"`      // http 模式下的读数地址
		PollInterval time.Duration `toml:"poll_interval"` // http 轮询间隔
	} `toml:"telemetry"`

	Policy struct {
		Key     string `toml:"key"`     // 策略文档键，如 "loadSettings"
		Channel string `toml:"channel"` // 变更通知频道
	} `toml:"policy"`

	Command struct {
		KeyPrefix   string        `toml:"key_prefix"`   // 设备状态键前缀，如 "rooms:"
		TopicPrefix string        `toml:"topic_prefix"` // 指令主题前缀，如 "rooms/"
		Parallelism int           `toml:"parallelism"`  // 批量关断并发数
		Timeout     time.Duration `toml:"timeout"`      // 单条指令超时
	} `toml:"command"`

	Notify struct {
		Stream    string `toml:"stream"`
		StreamMax int64  `toml:"stream_max"`
	} `toml:"notify"`

	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`

	Audit struct {
		Enabled bool `toml:"enabled"` // 是否写入 Postgres 审计表
	} `toml:"audit"`

	Log struct {
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Telemetry.Source = getEnv("TELEMETRY_SOURCE", cfg.Telemetry.Source)
	cfg.Telemetry.Topic = getEnv("TELEMETRY_TOPIC", cfg.Telemetry.Topic)
	cfg.Telemetry.HTTPURL = getEnv("TELEMETRY_HTTP_URL", cfg.Telemetry.HTTPURL)
	cfg.Policy.Key = getEnv("POLICY_KEY", cfg.Policy.Key)
	cfg.Policy.Channel = getEnv("POLICY_CHANNEL", cfg.Policy.Channel)
	cfg.Command.KeyPrefix = getEnv("DEVICE_KEY_PREFIX", cfg.Command.KeyPrefix)
	cfg.Command.TopicPrefix = getEnv("COMMAND_TOPIC_PREFIX", cfg.Command.TopicPrefix)
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", cfg.Notify.Stream)
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	var err error
	if cfg.Telemetry.PollInterval, err = getDuration("TELEMETRY_POLL_INTERVAL", cfg.Telemetry.PollInterval); err != nil {
		return nil, err
	}
	if cfg.Command.Timeout, err = getDuration("COMMAND_TIMEOUT", cfg.Command.Timeout); err != nil {
		return nil, err
	}
	if cfg.Command.Parallelism, err = getInt("COMMAND_PARALLELISM", cfg.Command.Parallelism); err != nil {
		return nil, err
	}
	if cfg.Audit.Enabled, err = getBool("AUDIT_ENABLED", cfg.Audit.Enabled); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2

	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "owl-loadshed"
	cfg.MQTT.QoS = 1

	cfg.Telemetry.Source = TelemetryMQTT
	cfg.Telemetry.Topic = "powerSources/#"
	cfg.Telemetry.PollInterval = 5 * time.Second

	cfg.Policy.Key = "loadSettings"
	cfg.Policy.Channel = "loadSettings:changed"

	cfg.Command.KeyPrefix = "rooms:"
	cfg.Command.TopicPrefix = "rooms/"
	cfg.Command.Parallelism = 8
	cfg.Command.Timeout = 5 * time.Second

	cfg.Notify.Stream = "loadshed:notifications"
	cfg.Notify.StreamMax = 1000

	cfg.HTTP.Addr = ":8080"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 5

	return cfg
}

// Validate 检查配置组合是否可用
func (c *Config) Validate() error {
	switch c.Telemetry.Source {
	case TelemetryMQTT:
		if c.Telemetry.Topic == "" {
			return fmt.Errorf("telemetry topic is required for mqtt source")
		}
	case TelemetryHTTP:
		if c.Telemetry.HTTPURL == "" {
			return fmt.Errorf("TELEMETRY_HTTP_URL is required for http source")
		}
	default:
		return fmt.Errorf("unknown telemetry source: %q", c.Telemetry.Source)
	}
	if c.Policy.Key == "" {
		return fmt.Errorf("policy key is required")
	}
	if c.Command.Parallelism < 0 {
		return fmt.Errorf("command parallelism must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
