package commons

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"waybill/internal/config"
)

// fileConfig mirrors config.Config with yaml tags and string durations.
// yaml/v3 cannot decode "15s" into a time.Duration field, so durations come
// in as strings and are parsed explicitly.
type fileConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Backend struct {
		BaseURL      string `yaml:"baseUrl"`
		Timeout      string `yaml:"timeout"`
		FetchTimeout string `yaml:"fetchTimeout"`
	} `yaml:"backend"`
	Queue struct {
		Store         string `yaml:"store"`
		FilePath      string `yaml:"filePath"`
		MaxAttempts   int    `yaml:"maxAttempts"`
		DrainInterval string `yaml:"drainInterval"`
	} `yaml:"queue"`
	Database struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		User            string `yaml:"user"`
		Password        string `yaml:"password"`
		Name            string `yaml:"name"`
		MaxOpenConns    int    `yaml:"maxOpenConns"`
		MaxIdleConns    int    `yaml:"maxIdleConns"`
		ConnMaxLifetime string `yaml:"connMaxLifetime"`
	} `yaml:"database"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		Buffer  int      `yaml:"buffer"`
	} `yaml:"kafka"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML config file. Environment variables handled by
// config.Load take precedence when both are used.
func LoadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	backendTimeout, err := parseDuration(fc.Backend.Timeout, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("backend.timeout: %w", err)
	}
	fetchTimeout, err := parseDuration(fc.Backend.FetchTimeout, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("backend.fetchTimeout: %w", err)
	}
	drainInterval, err := parseDuration(fc.Queue.DrainInterval, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("queue.drainInterval: %w", err)
	}
	connMaxLifetime, err := parseDuration(fc.Database.ConnMaxLifetime, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("database.connMaxLifetime: %w", err)
	}

	return &config.Config{
		Server: config.ServerConfig{
			Port: fc.Server.Port,
		},
		Backend: config.BackendConfig{
			BaseURL:      fc.Backend.BaseURL,
			Timeout:      backendTimeout,
			FetchTimeout: fetchTimeout,
		},
		Queue: config.QueueConfig{
			Store:         fc.Queue.Store,
			FilePath:      fc.Queue.FilePath,
			MaxAttempts:   fc.Queue.MaxAttempts,
			DrainInterval: drainInterval,
		},
		Database: config.DatabaseConfig{
			Host:            fc.Database.Host,
			Port:            fc.Database.Port,
			User:            fc.Database.User,
			Password:        fc.Database.Password,
			Name:            fc.Database.Name,
			MaxOpenConns:    fc.Database.MaxOpenConns,
			MaxIdleConns:    fc.Database.MaxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Kafka: config.KafkaConfig{
			Enabled: fc.Kafka.Enabled,
			Brokers: fc.Kafka.Brokers,
			Topic:   fc.Kafka.Topic,
			Buffer:  fc.Kafka.Buffer,
		},
		Log: config.LogConfig{
			Level: fc.Log.Level,
		},
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
