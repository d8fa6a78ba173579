package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"owl-loadshed/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T, redisAddr, telemetryURL string) *config.Config {
	t.Helper()
	os.Clearenv()
	t.Setenv("REDIS_ADDR", redisAddr)
	t.Setenv("TELEMETRY_SOURCE", "http")
	t.Setenv("TELEMETRY_HTTP_URL", telemetryURL)
	t.Setenv("TELEMETRY_POLL_INTERVAL", "20ms")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.MQTT.Broker = ""
	return cfg
}

func TestLoadShedService_ShedsOnLowBattery(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("loadSettings", `{
		"mode": "automatic",
		"nonEssentialLoads": [{"id": "r1-heater", "roomId": "r1", "deviceId": "heater", "priority": 1}],
		"essentialLoads": [{"id": "r1-fridge", "roomId": "r1", "deviceId": "fridge", "priority": 1}]
	}`))

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"solar": {"current": {"generated": 800}},
			"grid": {"current": {"used": 200}},
			"battery": {"status": {"currentCharge": 1750, "capacity": 5000}}
		}`))
	}))
	defer gateway.Close()

	cfg := testConfig(t, mr.Addr(), gateway.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewLoadShedService(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Stop()

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return mr.HGet("rooms:r1:devices:heater", "isOn") == "false"
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		doc, err := mr.Get("loadSettings")
		return err == nil && strings.Contains(doc, `"savePowerActive":true`)
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, "battery-40", svc.Controller().LastTriggeredKey())
	assert.False(t, mr.Exists("rooms:r1:devices:fridge"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewLoadShedService_MQTTTelemetryRequiresBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr(), "http://unused")
	cfg.Telemetry.Source = config.TelemetryMQTT

	_, err := NewLoadShedService(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLoadShedService_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr(), "http://unused")
	mr.Close()

	_, err := NewLoadShedService(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
