package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:8377" {
		t.Errorf("unexpected default listen addr %q", cfg.ListenAddr)
	}
	if cfg.Upload.MaxAttempts != 3 || cfg.Upload.FlushInterval != "5m" {
		t.Errorf("unexpected upload defaults: %+v", cfg.Upload)
	}
	if cfg.Capture.ScrollThrottleMS != 1000 {
		t.Errorf("unexpected capture defaults: %+v", cfg.Capture)
	}

	// First load writes the defaults to disk
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file to be written: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ExcludedDomains = []string{"bank.com"}
	cfg.Upload.Endpoint = "http://collector.example:5000/api/sessions/upload"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.ExcludedDomains) != 1 || reloaded.ExcludedDomains[0] != "bank.com" {
		t.Errorf("excluded domains lost: %v", reloaded.ExcludedDomains)
	}
	if reloaded.Upload.Endpoint != "http://collector.example:5000/api/sessions/upload" {
		t.Errorf("endpoint lost: %q", reloaded.Upload.Endpoint)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("SEARCHTRACE_ENDPOINT", "http://env.example/upload")
	t.Setenv("SEARCHTRACE_DATA_DIR", "/tmp/searchtrace-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upload.Endpoint != "http://env.example/upload" {
		t.Errorf("env endpoint override ignored: %q", cfg.Upload.Endpoint)
	}
	if cfg.DataDir != "/tmp/searchtrace-env" {
		t.Errorf("env data dir override ignored: %q", cfg.DataDir)
	}
}
