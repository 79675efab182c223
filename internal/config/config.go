// Package config loads server configuration from a TOML file with
// environment-variable overrides. The file is optional — a deployment can run
// on environment variables alone.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`

	Google GoogleConfig `toml:"google"`
	Sync   SyncConfig   `toml:"sync"`
}

// GoogleConfig holds the OAuth app credentials and provider-boundary
// settings.
type GoogleConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`

	// Timezone is the IANA zone used when a timed event body is built for
	// the provider. Local rows keep verbatim wall-clock strings; the offset
	// is attached only at this boundary.
	Timezone string `toml:"timezone"`

	// TokenExpiryMargin is the safety margin below which a stored access
	// token is refreshed instead of reused.
	TokenExpiryMargin duration `toml:"token_expiry_margin"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	// DuplicateWindow bounds the near-duplicate check on create: a second
	// create for the same owner, title and date inside the window returns
	// the existing row instead of inserting again.
	DuplicateWindow duration `toml:"duplicate_window"`

	// MaxListResults caps one page of the provider's upcoming-events
	// listing.
	MaxListResults int `toml:"max_list_results"`
}

// duration lets TOML carry values like "2m" or "90s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads the config file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, fills defaults, and
// validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: decoding %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "FITCAL_LISTEN_ADDR")
	setString(&cfg.DBPath, "FITCAL_DB_PATH")
	setString(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.Google.RedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&cfg.Google.Timezone, "FITCAL_TIMEZONE")
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/fitcal.db"
	}
	if cfg.Google.Timezone == "" {
		cfg.Google.Timezone = "UTC"
	}
	if cfg.Google.TokenExpiryMargin.Duration == 0 {
		cfg.Google.TokenExpiryMargin.Duration = time.Minute
	}
	if cfg.Sync.DuplicateWindow.Duration == 0 {
		cfg.Sync.DuplicateWindow.Duration = 2 * time.Minute
	}
	if cfg.Sync.MaxListResults == 0 {
		cfg.Sync.MaxListResults = 250
	}
}

func validate(cfg *Config) error {
	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return errors.New("config: google client id and secret are required (google.client_id / GOOGLE_CLIENT_ID)")
	}
	if cfg.Google.RedirectURL == "" {
		return errors.New("config: google redirect url is required (google.redirect_url / GOOGLE_REDIRECT_URL)")
	}
	if _, err := time.LoadLocation(cfg.Google.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", cfg.Google.Timezone, err)
	}
	if cfg.Sync.MaxListResults < 1 || cfg.Sync.MaxListResults > 2500 {
		return fmt.Errorf("config: sync.max_list_results must be between 1 and 2500, got %d", cfg.Sync.MaxListResults)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
