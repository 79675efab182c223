package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fitcal.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr = ":9090"
db_path = "/tmp/test.db"

[google]
client_id = "cid"
client_secret = "secret"
redirect_url = "http://localhost:9090/api/calendar/auth/callback"
timezone = "Europe/Berlin"
token_expiry_margin = "90s"

[sync]
duplicate_window = "5m"
max_list_results = 100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.Google.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want Europe/Berlin", cfg.Google.Timezone)
	}
	if cfg.Google.TokenExpiryMargin.Duration != 90*time.Second {
		t.Errorf("TokenExpiryMargin = %v, want 90s", cfg.Google.TokenExpiryMargin.Duration)
	}
	if cfg.Sync.DuplicateWindow.Duration != 5*time.Minute {
		t.Errorf("DuplicateWindow = %v, want 5m", cfg.Sync.DuplicateWindow.Duration)
	}
	if cfg.Sync.MaxListResults != 100 {
		t.Errorf("MaxListResults = %d, want 100", cfg.Sync.MaxListResults)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
[google]
client_id = "cid"
client_secret = "secret"
redirect_url = "http://localhost/callback"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want the :8080 default", cfg.ListenAddr)
	}
	if cfg.DBPath != "data/fitcal.db" {
		t.Errorf("DBPath = %q, want the default path", cfg.DBPath)
	}
	if cfg.Google.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Google.Timezone)
	}
	if cfg.Google.TokenExpiryMargin.Duration != time.Minute {
		t.Errorf("TokenExpiryMargin = %v, want 1m", cfg.Google.TokenExpiryMargin.Duration)
	}
	if cfg.Sync.DuplicateWindow.Duration != 2*time.Minute {
		t.Errorf("DuplicateWindow = %v, want 2m", cfg.Sync.DuplicateWindow.Duration)
	}
	if cfg.Sync.MaxListResults != 250 {
		t.Errorf("MaxListResults = %d, want 250", cfg.Sync.MaxListResults)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
listen_addr = ":9090"

[google]
client_id = "file-cid"
client_secret = "file-secret"
redirect_url = "http://localhost/callback"
`)

	t.Setenv("FITCAL_LISTEN_ADDR", ":7070")
	t.Setenv("GOOGLE_CLIENT_ID", "env-cid")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want the env override", cfg.ListenAddr)
	}
	if cfg.Google.ClientID != "env-cid" {
		t.Errorf("ClientID = %q, want the env override", cfg.Google.ClientID)
	}
	if cfg.Google.ClientSecret != "file-secret" {
		t.Errorf("ClientSecret = %q, want the file value kept", cfg.Google.ClientSecret)
	}
}

func TestLoad_MissingFileRunsOnEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost/callback")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Google.ClientID != "cid" {
		t.Errorf("ClientID = %q, want from env", cfg.Google.ClientID)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing credentials", `listen_addr = ":8080"`},
		{"missing redirect url", `
[google]
client_id = "cid"
client_secret = "secret"
`},
		{"bad timezone", `
[google]
client_id = "cid"
client_secret = "secret"
redirect_url = "http://localhost/callback"
timezone = "Mars/Olympus_Mons"
`},
		{"max results out of range", `
[google]
client_id = "cid"
client_secret = "secret"
redirect_url = "http://localhost/callback"

[sync]
max_list_results = 9000
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want a validation error")
			}
		})
	}
}
