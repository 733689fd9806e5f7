// Package config loads the TOML configuration file and supplies defaults
// for everything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full application configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Auth      Auth      `toml:"auth"`
	Fetch     Fetch     `toml:"fetch"`
	Converter Converter `toml:"converter"`
	Data      Data      `toml:"data"`
	Log       Log       `toml:"log"`
}

// Server selects the OSM API instance and the local metrics listener.
type Server struct {
	// Dev switches all traffic to the sandbox API. Uploads there never
	// touch the live map.
	Dev         bool    `toml:"dev"`
	BaseURL     string  `toml:"base_url"`
	MetricsAddr string  `toml:"metrics_addr"`
	RateLimit   float64 `toml:"rate_limit"`
	RateBurst   int     `toml:"rate_burst"`
}

// Auth carries the registered OAuth2 application credentials.
type Auth struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
}

// Fetch tunes the download pipeline.
type Fetch struct {
	HalfSize     float64  `toml:"half_size"`
	ShrinkFactor float64  `toml:"shrink_factor"`
	MinSpan      float64  `toml:"min_span"`
	PayloadTTL   Duration `toml:"payload_ttl"`
	ShowOutline  bool     `toml:"show_outline"`
	Prefetch     bool     `toml:"prefetch"`
}

// Duration decodes TOML strings like "30s" into a time.Duration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Converter names an optional external XML-to-GeoJSON converter. Empty
// command means the native builder.
type Converter struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Data locates the on-disk state.
type Data struct {
	Dir string `toml:"dir"`
}

// Log configures the slog handler.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			MetricsAddr: "localhost:9090",
			RateLimit:   2,
			RateBurst:   4,
		},
		Auth: Auth{
			RedirectURL: "osmedit://oauth/callback",
		},
		Fetch: Fetch{
			HalfSize:     0.002,
			ShrinkFactor: 0.75,
			MinSpan:      0.0002,
			PayloadTTL:   Duration(5 * time.Minute),
			ShowOutline:  true,
			Prefetch:     true,
		},
		Data: Data{
			Dir: defaultDataDir(),
		},
		Log: Log{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "osmedit")
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Fetch.ShrinkFactor <= 0 || c.Fetch.ShrinkFactor >= 1 {
		return fmt.Errorf("fetch.shrink_factor must be in (0, 1), got %v", c.Fetch.ShrinkFactor)
	}
	if c.Fetch.HalfSize <= 0 {
		return fmt.Errorf("fetch.half_size must be positive, got %v", c.Fetch.HalfSize)
	}
	if c.Fetch.MinSpan <= 0 {
		return fmt.Errorf("fetch.min_span must be positive, got %v", c.Fetch.MinSpan)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %v", c.Server.RateLimit)
	}
	return nil
}

// LedgerPath returns the pending-edit database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Data.Dir, "edits.db")
}

// TokenPath returns the OAuth token location.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Data.Dir, "token.json")
}
