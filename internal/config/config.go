package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Node
	NodeID      string
	AdvertiseIP string
	PeerPort    int
	ShareDir    string
	DownloadDir string

	// HTTP front end
	HTTPAddr    string
	MetricsAddr string // empty disables the metrics listener

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Catalog
	DigestCacheSize int // 0 disables digest caching

	// Registry advertisement
	AdvertiseEnabled      bool
	AWSRegion             string
	PeerRegistryTable     string
	FileAvailabilityTable string
	AdvertiseInterval     time.Duration
	PeerStaleAfter        time.Duration
	UseEC2Metadata        bool
}

func Load() (*Config, error) {
	cfg := &Config{
		NodeID:                getEnv("NODE_ID", ""),
		AdvertiseIP:           getEnv("NODE_ADVERTISE_IP", ""),
		PeerPort:              getEnvInt("PEER_PORT", 8080),
		ShareDir:              getEnv("SHARE_DIR", "./shared"),
		DownloadDir:           getEnv("DOWNLOAD_DIR", "./downloads"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8847"),
		MetricsAddr:           getEnv("METRICS_ADDR", ":9090"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		DigestCacheSize:       getEnvInt("DIGEST_CACHE_SIZE", 1024),
		AdvertiseEnabled:      getEnvBool("ADVERTISE_ENABLED", false),
		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		PeerRegistryTable:     getEnv("PEER_REGISTRY_TABLE", "p2p-peer-registry"),
		FileAvailabilityTable: getEnv("FILE_AVAILABILITY_TABLE", "p2p-file-availability"),
		AdvertiseInterval:     getEnvDuration("ADVERTISE_INTERVAL", 60*time.Second),
		PeerStaleAfter:        getEnvDuration("PEER_STALE_AFTER", 30*time.Minute),
		UseEC2Metadata:        getEnvBool("USE_EC2_METADATA", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		return fmt.Errorf("PEER_PORT must be between 1 and 65535")
	}
	if c.ShareDir == "" {
		return fmt.Errorf("SHARE_DIR is required")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("DOWNLOAD_DIR is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console'")
	}
	if c.DigestCacheSize < 0 {
		return fmt.Errorf("DIGEST_CACHE_SIZE must not be negative")
	}
	if c.AdvertiseEnabled {
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when ADVERTISE_ENABLED is set")
		}
		if c.PeerRegistryTable == "" {
			return fmt.Errorf("PEER_REGISTRY_TABLE is required when ADVERTISE_ENABLED is set")
		}
		if c.FileAvailabilityTable == "" {
			return fmt.Errorf("FILE_AVAILABILITY_TABLE is required when ADVERTISE_ENABLED is set")
		}
		if c.AdvertiseInterval <= 0 {
			return fmt.Errorf("ADVERTISE_INTERVAL must be positive")
		}
		if c.PeerStaleAfter < c.AdvertiseInterval {
			return fmt.Errorf("PEER_STALE_AFTER must be at least ADVERTISE_INTERVAL")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of
// seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
