package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Queue    QueueConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	BaseURL      string
	Timeout      time.Duration
	FetchTimeout time.Duration
}

type QueueConfig struct {
	// Store selects the persistence target: "file" or "mysql".
	Store         string
	FilePath      string
	MaxAttempts   int
	DrainInterval time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	Buffer  int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", 8080)
	viper.SetDefault("BACKEND_BASE_URL", "http://localhost:9090")
	viper.SetDefault("BACKEND_TIMEOUT", "15s")
	viper.SetDefault("BACKEND_FETCH_TIMEOUT", "5s")
	viper.SetDefault("QUEUE_STORE", "file")
	viper.SetDefault("QUEUE_FILE_PATH", "data/offline_tasks.json")
	viper.SetDefault("QUEUE_MAX_ATTEMPTS", 5)
	viper.SetDefault("QUEUE_DRAIN_INTERVAL", "30s")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 3306)
	viper.SetDefault("DB_USER", "waybill")
	viper.SetDefault("DB_PASSWORD", "secret")
	viper.SetDefault("DB_NAME", "waybill")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("KAFKA_ENABLED", false)
	viper.SetDefault("KAFKA_BROKERS", "localhost:9092")
	viper.SetDefault("KAFKA_TOPIC", "order-events")
	viper.SetDefault("KAFKA_BUFFER", 256)
	viper.SetDefault("LOG_LEVEL", "info")

	backendTimeout, err := time.ParseDuration(viper.GetString("BACKEND_TIMEOUT"))
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := time.ParseDuration(viper.GetString("BACKEND_FETCH_TIMEOUT"))
	if err != nil {
		return nil, err
	}
	drainInterval, err := time.ParseDuration(viper.GetString("QUEUE_DRAIN_INTERVAL"))
	if err != nil {
		return nil, err
	}
	connMaxLifetime, err := time.ParseDuration(viper.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("SERVER_PORT"),
		},
		Backend: BackendConfig{
			BaseURL:      viper.GetString("BACKEND_BASE_URL"),
			Timeout:      backendTimeout,
			FetchTimeout: fetchTimeout,
		},
		Queue: QueueConfig{
			Store:         viper.GetString("QUEUE_STORE"),
			FilePath:      viper.GetString("QUEUE_FILE_PATH"),
			MaxAttempts:   viper.GetInt("QUEUE_MAX_ATTEMPTS"),
			DrainInterval: drainInterval,
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			User:            viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			Name:            viper.GetString("DB_NAME"),
			MaxOpenConns:    viper.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Kafka: KafkaConfig{
			Enabled: viper.GetBool("KAFKA_ENABLED"),
			Brokers: splitCSV(viper.GetString("KAFKA_BROKERS")),
			Topic:   viper.GetString("KAFKA_TOPIC"),
			Buffer:  viper.GetInt("KAFKA_BUFFER"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
