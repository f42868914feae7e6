package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir         string   `json:"data_dir"`
	LogLevel        string   `json:"log_level"`
	ListenAddr      string   `json:"listen_addr"`
	CatalogPath     string   `json:"catalog_path,omitempty"`
	ExcludedDomains []string `json:"excluded_domains"`
	Upload          struct {
		Endpoint       string `json:"endpoint"`
		MaxAttempts    int    `json:"max_attempts"`
		RetryDelayMS   int    `json:"retry_delay_ms"`
		FlushInterval  string `json:"flush_interval"`
		MaxBufferBytes int64  `json:"max_buffer_bytes"`
	} `json:"upload"`
	Capture struct {
		ScrollThrottleMS  int `json:"scroll_throttle_ms"`
		QueryRetries      int `json:"query_retries"`
		QueryRetryDelayMS int `json:"query_retry_delay_ms"`
		SettleDelayMS     int `json:"settle_delay_ms"`
	} `json:"capture"`
	Collector struct {
		ListenAddr   string `json:"listen_addr"`
		DatabasePath string `json:"database_path"`
	} `json:"collector"`

	path string
}

func Load(path string) (*Config, error) {
	cfg := &Config{path: path}
	cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".searchtrace")
	cfg.LogLevel = "info"
	cfg.ListenAddr = "127.0.0.1:8377"
	cfg.ExcludedDomains = []string{}
	cfg.Upload.Endpoint = "http://localhost:5000/api/sessions/upload"
	cfg.Upload.MaxAttempts = 3
	cfg.Upload.RetryDelayMS = 2000
	cfg.Upload.FlushInterval = "5m"
	cfg.Upload.MaxBufferBytes = 10 * 1024 * 1024
	cfg.Capture.ScrollThrottleMS = 1000
	cfg.Capture.QueryRetries = 10
	cfg.Capture.QueryRetryDelayMS = 500
	cfg.Capture.SettleDelayMS = 50
	cfg.Collector.ListenAddr = "127.0.0.1:5000"
	cfg.Collector.DatabasePath = ""

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if endpoint := os.Getenv("SEARCHTRACE_ENDPOINT"); endpoint != "" {
		cfg.Upload.Endpoint = endpoint
	}
	if dataDir := os.Getenv("SEARCHTRACE_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes the config back to its file atomically. Used both for
// first-run defaults and for persisting excluded-domain updates.
func (c *Config) Save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
