package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PEER_PORT", "SHARE_DIR", "HTTP_ADDR", "LOG_FORMAT", "ADVERTISE_ENABLED", "ADVERTISE_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PeerPort != 8080 {
		t.Errorf("expected peer port 8080, got %d", cfg.PeerPort)
	}
	if cfg.HTTPAddr != ":8847" {
		t.Errorf("expected HTTP addr :8847, got %s", cfg.HTTPAddr)
	}
	if cfg.AdvertiseEnabled {
		t.Error("expected advertising to be disabled by default")
	}
	if cfg.AdvertiseInterval != time.Minute {
		t.Errorf("expected 1m advertise interval, got %v", cfg.AdvertiseInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PEER_PORT", "9001")
	t.Setenv("SHARE_DIR", "/srv/share")
	t.Setenv("ADVERTISE_ENABLED", "true")
	t.Setenv("ADVERTISE_INTERVAL", "30")
	t.Setenv("PEER_STALE_AFTER", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PeerPort != 9001 {
		t.Errorf("expected 9001, got %d", cfg.PeerPort)
	}
	if cfg.ShareDir != "/srv/share" {
		t.Errorf("expected /srv/share, got %s", cfg.ShareDir)
	}
	if cfg.AdvertiseInterval != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.AdvertiseInterval)
	}
	if cfg.PeerStaleAfter != 10*time.Minute {
		t.Errorf("expected 10m, got %v", cfg.PeerStaleAfter)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PeerPort:              8080,
			ShareDir:              "shared",
			DownloadDir:           "downloads",
			HTTPAddr:              ":8847",
			LogFormat:             "json",
			AWSRegion:             "us-east-1",
			PeerRegistryTable:     "peers",
			FileAvailabilityTable: "files",
			AdvertiseInterval:     time.Minute,
			PeerStaleAfter:        time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.PeerPort = 0 }, true},
		{"port too high", func(c *Config) { c.PeerPort = 70000 }, true},
		{"no share dir", func(c *Config) { c.ShareDir = "" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"negative cache", func(c *Config) { c.DigestCacheSize = -1 }, true},
		{"advertise without table", func(c *Config) {
			c.AdvertiseEnabled = true
			c.PeerRegistryTable = ""
		}, true},
		{"stale shorter than interval", func(c *Config) {
			c.AdvertiseEnabled = true
			c.PeerStaleAfter = time.Second
		}, true},
		{"advertise valid", func(c *Config) { c.AdvertiseEnabled = true }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
