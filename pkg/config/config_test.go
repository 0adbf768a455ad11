package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Stats.FetchTimeout != 10*time.Second {
		t.Errorf("Stats.FetchTimeout = %s", cfg.Stats.FetchTimeout)
	}
	if !reflect.DeepEqual(cfg.Stats.Countries, []string{"jap", "usa", "kor", "chi"}) {
		t.Errorf("Stats.Countries = %v", cfg.Stats.Countries)
	}
	if cfg.Arango.Enabled() {
		t.Error("Arango enabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Images.PrefetchLimit != 4 {
		t.Errorf("Images.PrefetchLimit = %d", cfg.Images.PrefetchLimit)
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
stats:
  url: https://stats.example.test/api
  fetch_timeout: 3s
  countries: [jap, usa]
images:
  prefetch_limit: 8
background:
  dir: /var/lib/covid19-tracker
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Stats.URL != "https://stats.example.test/api" || cfg.Stats.FetchTimeout != 3*time.Second {
		t.Errorf("Stats = %+v", cfg.Stats)
	}
	if !reflect.DeepEqual(cfg.Stats.Countries, []string{"jap", "usa"}) {
		t.Errorf("Stats.Countries = %v", cfg.Stats.Countries)
	}
	if cfg.Images.PrefetchLimit != 8 || cfg.Images.FetchTimeout != 30*time.Second {
		t.Errorf("Images = %+v", cfg.Images)
	}
	if cfg.Background.Dir != "/var/lib/covid19-tracker" || cfg.Log.Level != "debug" {
		t.Errorf("Background/Log = %+v/%+v", cfg.Background, cfg.Log)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "stats:\n  refresh: 1m\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted an unknown field")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"COVID_API_URL":       "https://env.example.test",
		"UNSPLASH_ACCESS_KEY": " secret ",
		"COVID_SLOT_DIR":      "/tmp/slot",
		"ARANGO_ENDPOINT":     "https://arango.example.test:8529",
		"LOG_LEVEL":           "warn",
		"COVID_COUNTRIES":     "jap, ,kor",
	}
	cfg := DefaultConfig()

	applyEnv(&cfg, func(key string) string { return env[key] })

	if cfg.Stats.URL != "https://env.example.test" {
		t.Errorf("Stats.URL = %q", cfg.Stats.URL)
	}
	if cfg.Images.AccessKey != "secret" {
		t.Errorf("Images.AccessKey = %q", cfg.Images.AccessKey)
	}
	if cfg.Background.Dir != "/tmp/slot" || cfg.Log.Level != "warn" {
		t.Errorf("Background.Dir = %q, Log.Level = %q", cfg.Background.Dir, cfg.Log.Level)
	}
	if !cfg.Arango.Enabled() {
		t.Error("Arango not enabled by ARANGO_ENDPOINT")
	}
	if !reflect.DeepEqual(cfg.Stats.Countries, []string{"jap", "kor"}) {
		t.Errorf("Stats.Countries = %v", cfg.Stats.Countries)
	}
	if cfg.Images.SearchURL != DefaultConfig().Images.SearchURL {
		t.Errorf("unset variable changed Images.SearchURL to %q", cfg.Images.SearchURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty url", func(c *Config) { c.Stats.URL = " " }, "stats.url"},
		{"zero stats timeout", func(c *Config) { c.Stats.FetchTimeout = 0 }, "stats.fetch_timeout"},
		{"negative image timeout", func(c *Config) { c.Images.FetchTimeout = -time.Second }, "images.fetch_timeout"},
		{"zero prefetch", func(c *Config) { c.Images.PrefetchLimit = 0 }, "images.prefetch_limit"},
		{"empty dir", func(c *Config) { c.Background.Dir = "" }, "background.dir"},
		{"arango without credentials", func(c *Config) { c.Arango.Endpoint = "https://arango.example.test" }, "arango"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
