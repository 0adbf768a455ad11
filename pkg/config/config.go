// Package config loads tracker settings from defaults, an optional YAML file
// and environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stats      Stats      `yaml:"stats"`
	Images     Images     `yaml:"images"`
	Background Background `yaml:"background"`
	Arango     Arango     `yaml:"arango"`
	Log        Log        `yaml:"log"`
}

type Stats struct {
	URL          string        `yaml:"url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Countries    []string      `yaml:"countries"` // selection keys hosts accept
}

type Images struct {
	SearchURL     string        `yaml:"search_url"`
	AccessKey     string        `yaml:"access_key"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	PrefetchLimit int           `yaml:"prefetch_limit"`
}

type Background struct {
	Dir string `yaml:"dir"`
}

// Arango configures the optional snapshot recorder. It is disabled while Endpoint is empty.
type Arango struct {
	Endpoint    string `yaml:"endpoint"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Certificate string `yaml:"certificate"` // base64 PEM
	Database    string `yaml:"database"`
}

func (a Arango) Enabled() bool { return a.Endpoint != "" }

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func DefaultConfig() Config {
	return Config{
		Stats: Stats{
			URL:          "https://corona-virus-stats.herokuapp.com/api/v1/cases",
			FetchTimeout: 10 * time.Second,
			Countries:    []string{"jap", "usa", "kor", "chi"},
		},
		Images: Images{
			SearchURL:     "https://api.unsplash.com/search/photos/",
			FetchTimeout:  30 * time.Second,
			PrefetchLimit: 4,
		},
		Background: Background{
			Dir: defaultBackgroundDir(),
		},
		Log: Log{
			Level: "info",
		},
	}
}

func defaultBackgroundDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "covid19-tracker")
	}
	return filepath.Join(base, "covid19-tracker")
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := decode(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Stats.URL, "COVID_API_URL")
	set(&cfg.Images.AccessKey, "UNSPLASH_ACCESS_KEY")
	set(&cfg.Images.SearchURL, "UNSPLASH_SEARCH_URL")
	set(&cfg.Background.Dir, "COVID_SLOT_DIR")
	set(&cfg.Arango.Endpoint, "ARANGO_ENDPOINT")
	set(&cfg.Arango.Username, "ARANGO_USER_NAME")
	set(&cfg.Arango.Password, "ARANGO_PASS")
	set(&cfg.Arango.Certificate, "ARANGO_CERTIFICATE")
	set(&cfg.Arango.Database, "ARANGO_DATABASE")
	set(&cfg.Log.Level, "LOG_LEVEL")
	if v := strings.TrimSpace(getenv("COVID_COUNTRIES")); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Stats.Countries = keys
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Stats.URL) == "" {
		return errors.New("config: stats.url must be set")
	}
	if c.Stats.FetchTimeout <= 0 {
		return fmt.Errorf("config: stats.fetch_timeout must be positive, got %s", c.Stats.FetchTimeout)
	}
	if c.Images.FetchTimeout <= 0 {
		return fmt.Errorf("config: images.fetch_timeout must be positive, got %s", c.Images.FetchTimeout)
	}
	if c.Images.PrefetchLimit < 1 {
		return fmt.Errorf("config: images.prefetch_limit must be at least 1, got %d", c.Images.PrefetchLimit)
	}
	if strings.TrimSpace(c.Background.Dir) == "" {
		return errors.New("config: background.dir must be set")
	}
	if c.Arango.Enabled() && (c.Arango.Username == "" || c.Arango.Password == "" || c.Arango.Database == "") {
		return errors.New("config: arango.username, arango.password and arango.database are required when arango.endpoint is set")
	}
	return nil
}
