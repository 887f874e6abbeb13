package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "HEXNEWS"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "hexnews.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultFetchBatchSize = 3
	defaultConcurrency    = 8
	defaultSyncInterval   = 30 * time.Second
	defaultStorageBackend = StorageSQLite
	defaultHTTPTimeout    = 10 * time.Second
	defaultRetryBase      = 100 * time.Millisecond
	defaultRetryMax       = 3
	defaultFrontPageSize  = 30
	defaultSnapshotRetain = 10
)

// Storage backend names accepted by storage.backend.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
	StorageHTTP   = "http"
)

// AppConfig captures runtime configuration for the hexnews binaries.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	RootAddress    string
	FetchBatchSize int
	Concurrency    int
	SyncInterval   time.Duration
	StorageBackend string
	StorageURL     string
	StorageTimeout time.Duration
	RetryBase      time.Duration
	RetryMax       int
	FrontPageSize  int
	SnapshotRetain int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("sync.fetch_batch_size", defaultFetchBatchSize)
	configViper.SetDefault("sync.concurrency", defaultConcurrency)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.http.timeout", defaultHTTPTimeout)
	configViper.SetDefault("storage.retry.base", defaultRetryBase)
	configViper.SetDefault("storage.retry.max", defaultRetryMax)
	configViper.SetDefault("feed.front_page_size", defaultFrontPageSize)
	configViper.SetDefault("snapshot.retain", defaultSnapshotRetain)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		RootAddress:    strings.ToLower(strings.TrimSpace(configViper.GetString("sync.root_address"))),
		FetchBatchSize: configViper.GetInt("sync.fetch_batch_size"),
		Concurrency:    configViper.GetInt("sync.concurrency"),
		SyncInterval:   configViper.GetDuration("sync.interval"),
		StorageBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StorageURL:     strings.TrimSpace(configViper.GetString("storage.http.url")),
		StorageTimeout: configViper.GetDuration("storage.http.timeout"),
		RetryBase:      configViper.GetDuration("storage.retry.base"),
		RetryMax:       configViper.GetInt("storage.retry.max"),
		FrontPageSize:  configViper.GetInt("feed.front_page_size"),
		SnapshotRetain: configViper.GetInt("snapshot.retain"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.RootAddress == "" {
		return fmt.Errorf("sync.root_address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.FetchBatchSize < 1 {
		return fmt.Errorf("sync.fetch_batch_size must be at least 1")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("storage.retry.max must not be negative")
	}
	if c.FrontPageSize < 1 {
		return fmt.Errorf("feed.front_page_size must be at least 1")
	}
	if c.SnapshotRetain < 1 {
		return fmt.Errorf("snapshot.retain must be at least 1")
	}
	switch c.StorageBackend {
	case StorageSQLite, StorageMemory:
	case StorageHTTP:
		if c.StorageURL == "" {
			return fmt.Errorf("storage.http.url is required for the http backend")
		}
		if _, err := url.ParseRequestURI(c.StorageURL); err != nil {
			return fmt.Errorf("storage.http.url is invalid: %w", err)
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.StorageBackend)
	}
	return nil
}
