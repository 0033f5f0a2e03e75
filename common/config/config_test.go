package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "pill",
		Password: "secret",
		Database: "pillbox",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5433 user=pill password=secret dbname=pillbox sslmode=disable", cfg.GetDSN())
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	os.Setenv("TEST_MQTT_BROKER", "tcp://broker:1883")
	os.Setenv("TEST_MQTT_CLIENT_ID", "pillbox-test")
	os.Setenv("TEST_MQTT_QOS", "1")
	defer func() {
		os.Unsetenv("TEST_MQTT_BROKER")
		os.Unsetenv("TEST_MQTT_CLIENT_ID")
		os.Unsetenv("TEST_MQTT_QOS")
	}()

	cfg := MQTTConfig{Broker: "tcp://localhost:1883"}
	cfg.LoadFromEnv("TEST_MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "pillbox-test", cfg.ClientID)
	assert.Equal(t, byte(1), cfg.QoS)
}

func TestMQTTConfig_LoadFromEnv_InvalidQoSIgnored(t *testing.T) {
	os.Setenv("TEST_MQTT_QOS", "7")
	defer os.Unsetenv("TEST_MQTT_QOS")

	cfg := MQTTConfig{}
	cfg.LoadFromEnv("TEST_MQTT")

	assert.Equal(t, byte(0), cfg.QoS)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	os.Setenv("TEST_REDIS_ADDR", "redis:6380")
	os.Setenv("TEST_REDIS_DB", "2")
	defer func() {
		os.Unsetenv("TEST_REDIS_ADDR")
		os.Unsetenv("TEST_REDIS_DB")
	}()

	cfg := RedisConfig{}
	cfg.LoadFromEnv("TEST_REDIS")

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 2, cfg.DB)
}
