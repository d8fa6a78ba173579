package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, TelemetryMQTT, cfg.Telemetry.Source)
	assert.Equal(t, "powerSources/#", cfg.Telemetry.Topic)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.PollInterval)
	assert.Equal(t, "loadSettings", cfg.Policy.Key)
	assert.Equal(t, "loadSettings:changed", cfg.Policy.Channel)
	assert.Equal(t, "rooms:", cfg.Command.KeyPrefix)
	assert.Equal(t, "rooms/", cfg.Command.TopicPrefix)
	assert.Equal(t, 8, cfg.Command.Parallelism)
	assert.Equal(t, "loadshed:notifications", cfg.Notify.Stream)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("TELEMETRY_SOURCE", "http")
	t.Setenv("TELEMETRY_HTTP_URL", "http://gateway/powerSources")
	t.Setenv("TELEMETRY_POLL_INTERVAL", "2s")
	t.Setenv("COMMAND_PARALLELISM", "3")
	t.Setenv("COMMAND_TIMEOUT", "750ms")
	t.Setenv("AUDIT_ENABLED", "true")
	t.Setenv("LOG_FILE", "/var/log/loadshed.log")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, TelemetryHTTP, cfg.Telemetry.Source)
	assert.Equal(t, "http://gateway/powerSources", cfg.Telemetry.HTTPURL)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.PollInterval)
	assert.Equal(t, 3, cfg.Command.Parallelism)
	assert.Equal(t, 750*time.Millisecond, cfg.Command.Timeout)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "/var/log/loadshed.log", cfg.Log.File)
}

func TestLoad_ConfigFileThenEnv(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "loadshed.toml")
	content := `
[redis]
addr = "file-redis:6379"

[policy]
key = "site:loadSettings"

[command]
parallelism = 16
timeout = "3s"

[audit]
enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_ADDR", "env-redis:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "site:loadSettings", cfg.Policy.Key)
	assert.Equal(t, 16, cfg.Command.Parallelism)
	assert.Equal(t, 3*time.Second, cfg.Command.Timeout)
	assert.True(t, cfg.Audit.Enabled)
	// 文件未设置的字段保持默认
	assert.Equal(t, "loadSettings:changed", cfg.Policy.Channel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown source", map[string]string{"TELEMETRY_SOURCE": "carrier-pigeon"}},
		{"http without url", map[string]string{"TELEMETRY_SOURCE": "http"}},
		{"bad duration", map[string]string{"COMMAND_TIMEOUT": "soon"}},
		{"bad parallelism", map[string]string{"COMMAND_PARALLELISM": "many"}},
		{"bad bool", map[string]string{"AUDIT_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	os.Clearenv()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	assert.Error(t, err)
}
