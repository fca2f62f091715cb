// Package config loads the dashboard configuration: a YAML file validated
// against an embedded JSON schema, with environment overrides on top.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Application Application `yaml:"application"`
	Backend     Backend     `yaml:"backend"`
	Server      Server      `yaml:"server"`
	Dashboard   Dashboard   `yaml:"dashboard"`
	Export      Export      `yaml:"export"`
	Metadata    Metadata    `yaml:"metadata"`
	Monitoring  Monitoring  `yaml:"monitoring"`
}

type Application struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	LogLevel string `yaml:"log_level"`
}

type Backend struct {
	URL            string         `yaml:"url"`
	APIPrefix      string         `yaml:"api_prefix"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxRetries     int            `yaml:"max_retries"`
	InitialBackoff time.Duration  `yaml:"initial_backoff"`
	MaxBackoff     time.Duration  `yaml:"max_backoff"`
	SeverityCase   string         `yaml:"severity_case"`
	RateLimits     map[string]int `yaml:"rate_limits"` // requests per minute per endpoint
}

type Server struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Dashboard struct {
	DefaultRangeDays int           `yaml:"default_range_days"`
	DefaultGroupBy   string        `yaml:"default_group_by"`
	SearchDebounce   time.Duration `yaml:"search_debounce"`
}

type Export struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

type Metadata struct {
	CachePath string        `yaml:"cache_path"`
	TTL       time.Duration `yaml:"ttl"`
}

type Monitoring struct {
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

type HealthCheckConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Application: Application{
			Name:     "log-dashboard",
			Version:  "dev",
			LogLevel: "info",
		},
		Backend: Backend{
			URL:            "http://localhost:8000",
			APIPrefix:      "/api/v1",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			SeverityCase:   "upper",
			RateLimits: map[string]int{
				"aggregation": 120,
				"chart_data":  120,
				"export":      12,
				"metadata":    30,
				"list":        240,
				"health":      60,
			},
		},
		Server: Server{
			Listen:          ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Dashboard: Dashboard{
			DefaultRangeDays: 7,
			DefaultGroupBy:   "day",
			SearchDebounce:   300 * time.Millisecond,
		},
		Export: Export{
			Dir:    "exports",
			Format: "csv",
		},
		Metadata: Metadata{
			CachePath: "state/metadata.yaml",
			TTL:       15 * time.Minute,
		},
		Monitoring: Monitoring{
			Prometheus:  PrometheusConfig{Enabled: true, Path: "/metrics"},
			HealthCheck: HealthCheckConfig{Enabled: true, Path: "/health", Timeout: 5 * time.Second},
			Logging:     LoggingConfig{Format: "json", Output: "stdout"},
		},
	}
}

// Load reads path without schema validation or env overrides; Default fills
// whatever the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
