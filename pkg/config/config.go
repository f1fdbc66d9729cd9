/*
Package config manages the TOML config for the shortwords service.

Values are resolved in this order, later wins: built-in defaults, the TOML
file, environment (a .env file is loaded first when present), command-line flags.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the entire config structure
type Config struct {
	Server   ServerConfig   `toml:"server"`
	DB       DBConfig       `toml:"db"`
	Upstream UpstreamConfig `toml:"upstream"`
	Ingest   IngestConfig   `toml:"ingest"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig has HTTP server options.
type ServerConfig struct {
	Addr         string        `toml:"addr"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	CORSOrigins  []string      `toml:"cors_origins"`
}

// DBConfig holds the SQLite driver, path and pool sizing.
type DBConfig struct {
	Driver          string        `toml:"driver"`
	Path            string        `toml:"path"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `toml:"conn_max_idle_time"`
	BusyTimeout     time.Duration `toml:"busy_timeout"`
}

// UpstreamConfig points at the question-search API.
type UpstreamConfig struct {
	BaseURL string        `toml:"base_url"`
	Site    string        `toml:"site"`
	Key     string        `toml:"key"`
	Timeout time.Duration `toml:"timeout"`
}

// IngestConfig bounds ingestion concurrency.
type IngestConfig struct {
	Workers int `toml:"workers"`
}

// LogConfig selects the log level and output format (text, json, logfmt).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":3000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
			CORSOrigins:  []string{"*"},
		},
		DB: DBConfig{
			Driver:          "sqlite3",
			Path:            "shortwords.db",
			MaxOpenConns:    16,
			MaxIdleConns:    1,
			ConnMaxIdleTime: 5 * time.Second,
			BusyTimeout:     5 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.stackexchange.com/2.3",
			Site:    "stackoverflow",
			Timeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			Workers: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// LoadEnv loads environment variables from the given .env files (".env" when
// none are given). Missing files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("db.driver must be sqlite3 or sqlite, got %q", c.DB.Driver)
	}
	if c.DB.Path == "" {
		return errors.New("db.path must be set")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	return nil
}
