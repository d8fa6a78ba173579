package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("AUDIT_DB_HOST", "pg.local")
	t.Setenv("AUDIT_DB_PORT", "6543")
	t.Setenv("AUDIT_DB_NAME", "loadshed")
	t.Setenv("AUDIT_DB_MAX_CONNS", "not-a-number")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, SSLMode: "disable", MaxConns: 4}
	cfg.LoadFromEnv("AUDIT_DB")

	assert.Equal(t, "pg.local", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "loadshed", cfg.Database)
	assert.Equal(t, 4, cfg.MaxConns)
	assert.Equal(t, "host=pg.local port=6543 user= password= dbname=loadshed sslmode=disable", cfg.GetDSN())
}

func TestMQTTConfig_LoadFromEnv_QoSRange(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "5")

	cfg := MQTTConfig{QoS: 1}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)

	t.Setenv("MQTT_QOS", "2")
	cfg.LoadFromEnv("MQTT")
	assert.Equal(t, byte(2), cfg.QoS)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")

	var cfg RedisConfig
	cfg.LoadFromEnv("REDIS")

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
}
