package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the optional YAML configuration file. Flags and
// environment variables override anything set here, so the file only has to
// carry the values a deployment wants pinned.
type fileConfig struct {
	Addr            string        `yaml:"addr"`
	LogLevel        string        `yaml:"log_level"`
	APIToken        string        `yaml:"api_token"`
	WSToken         string        `yaml:"ws_token"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RecentSessions  int           `yaml:"recent_sessions"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Encoder struct {
		Binary       string        `yaml:"binary"`
		StopGrace    time.Duration `yaml:"stop_grace"`
		TeardownWait time.Duration `yaml:"teardown_wait"`
	} `yaml:"encoder"`

	Archive struct {
		Driver      string `yaml:"driver"`
		Path        string `yaml:"path"`
		PostgresDSN string `yaml:"postgres_dsn"`
		Retention   int    `yaml:"retention"`
	} `yaml:"archive"`

	Queue struct {
		Driver string `yaml:"driver"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Stream   string `yaml:"stream"`
			Group    string `yaml:"group"`
		} `yaml:"redis"`
	} `yaml:"queue"`

	Notify struct {
		Endpoint      string        `yaml:"endpoint"`
		Token         string        `yaml:"token"`
		MaxAttempts   int           `yaml:"max_attempts"`
		RetryInterval time.Duration `yaml:"retry_interval"`
	} `yaml:"notify"`

	Rate struct {
		GlobalRPS   float64       `yaml:"global_rps"`
		GlobalBurst int           `yaml:"global_burst"`
		StartLimit  int           `yaml:"start_limit"`
		StartWindow time.Duration `yaml:"start_window"`
	} `yaml:"rate"`

	Telemetry struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"telemetry"`
}

// loadConfigFile reads and parses path. An empty path yields a zero config so
// flag- and environment-only deployments never touch the filesystem.
func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
