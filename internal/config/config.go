package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"pillbox/common/config"
)

// Config pillbox 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	DBEnabled bool
	Database  config.DatabaseConfig

	RedisEnabled bool
	Redis        config.RedisConfig

	MQTT config.MQTTConfig

	// 药盒设备配置
	Pillbox struct {
		ScheduleTopic  string        // 下发命令 topic，默认 pillbox/schedule
		StatusTopic    string        // 设备上报 topic，默认 pillbox/status
		Compartments   int           // 仓位数，默认 3
		PublishTimeout time.Duration // 单次发布超时，默认 5 秒
	}

	// 到期评估配置
	Evaluation struct {
		Interval  time.Duration // 默认 5 分钟
		Lookahead time.Duration // 默认 5 分钟
		Grace     time.Duration // 默认 5 分钟
	}

	Location *time.Location

	// 外部账号服务，为空时使用内存目录
	PatientDirectoryURL string

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "pillbox",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "pillbox-service",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Pillbox.ScheduleTopic = getEnv("PILLBOX_TOPIC_SCHEDULE", "pillbox/schedule")
	cfg.Pillbox.StatusTopic = getEnv("PILLBOX_TOPIC_STATUS", "pillbox/status")

	var err error
	if cfg.Pillbox.Compartments, err = getEnvInt("PILLBOX_COMPARTMENTS", 3); err != nil {
		return nil, err
	}
	if cfg.Pillbox.Compartments < 1 {
		return nil, fmt.Errorf("PILLBOX_COMPARTMENTS must be positive")
	}
	if cfg.Pillbox.PublishTimeout, err = getEnvDuration("PILLBOX_PUBLISH_TIMEOUT_SEC", 5, time.Second); err != nil {
		return nil, err
	}
	if cfg.Evaluation.Interval, err = getEnvDuration("EVAL_INTERVAL_SEC", 300, time.Second); err != nil {
		return nil, err
	}
	if cfg.Evaluation.Lookahead, err = getEnvDuration("EVAL_LOOKAHEAD_MIN", 5, time.Minute); err != nil {
		return nil, err
	}
	if cfg.Evaluation.Grace, err = getEnvDuration("EVAL_GRACE_MIN", 5, time.Minute); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	cfg.PatientDirectoryURL = getEnv("PATIENT_DIRECTORY_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	n, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(n) * unit, nil
}
