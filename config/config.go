package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vnflow      VnflowConfig      `yaml:"vnflow"`
	MarketScope MarketScopeConfig `yaml:"market_scope"`
	Performance PerformanceConfig `yaml:"performance"`
	Source      SourceConfig      `yaml:"source"`
	DataPaths   DataPathsConfig   `yaml:"data_paths"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type VnflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MarketScopeConfig struct {
	Mode         string        `yaml:"mode"`
	Scope        string        `yaml:"scope"`
	Symbols      []string      `yaml:"symbols"`
	Exchanges    []string      `yaml:"exchanges"`
	ForceRefresh bool          `yaml:"force_refresh"`
	Filters      FiltersConfig `yaml:"filters"`
	UpcomMax     int           `yaml:"upcom_max_symbols"`
	UpcomSortBy  string        `yaml:"upcom_sort_by"`
}

type FiltersConfig struct {
	ExcludeETF       bool `yaml:"exclude_etf"`
	ExcludeSuspended bool `yaml:"exclude_suspended"`
}

type PerformanceConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
}

type SourceConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Timeout   time.Duration   `yaml:"timeout"`
	UserAgent string          `yaml:"user_agent"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type DataPathsConfig struct {
	Cache     string `yaml:"cache"`
	Processed string `yaml:"processed"`
	Reports   string `yaml:"reports"`
}

type ExtractionConfig struct {
	StartDate  string `yaml:"start_date"`
	EndDate    string `yaml:"end_date"`
	Resolution string `yaml:"resolution"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Compression     string `yaml:"compression"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		MarketScope: MarketScopeConfig{
			Mode:        "dynamic",
			Scope:       "all",
			Exchanges:   []string{"HSX", "HNX", "UPCOM"},
			UpcomMax:    50,
			UpcomSortBy: "avg_value",
			Filters: FiltersConfig{
				ExcludeETF:       true,
				ExcludeSuspended: true,
			},
		},
		Performance: PerformanceConfig{
			ConcurrencyLimit: 4,
			MaxRetries:       3,
			RetryBaseDelay:   time.Second,
			RetryMaxDelay:    30 * time.Second,
			ShutdownGrace:    10 * time.Second,
		},
		Source: SourceConfig{
			Timeout:   10 * time.Second,
			UserAgent: "vnflow/1.0",
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 10},
		},
		Extraction: ExtractionConfig{
			Resolution: "1D",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Vnflow.Name == "" {
		return fmt.Errorf("vnflow.name is required")
	}

	if cfg.Vnflow.Version == "" {
		return fmt.Errorf("vnflow.version is required")
	}

	mode := strings.ToLower(cfg.MarketScope.Mode)
	if mode != "dynamic" && mode != "manual" {
		return fmt.Errorf("market_scope.mode must be dynamic or manual, got %q", cfg.MarketScope.Mode)
	}
	if mode == "manual" && len(cfg.MarketScope.Symbols) == 0 {
		return fmt.Errorf("market_scope.symbols is required when mode is manual")
	}

	switch strings.ToLower(cfg.MarketScope.Scope) {
	case "all", "core", "hsx_only", "hsx_hnx":
	default:
		return fmt.Errorf("market_scope.scope %q is invalid", cfg.MarketScope.Scope)
	}

	for _, ex := range cfg.MarketScope.Exchanges {
		switch strings.ToUpper(strings.TrimSpace(ex)) {
		case "HSX", "HOSE", "HNX", "UPCOM":
		default:
			return fmt.Errorf("market_scope.exchanges contains unknown venue %q", ex)
		}
	}

	if cfg.MarketScope.UpcomMax <= 0 {
		return fmt.Errorf("market_scope.upcom_max_symbols must be greater than 0")
	}

	if cfg.Performance.ConcurrencyLimit <= 0 {
		return fmt.Errorf("performance.concurrency_limit must be greater than 0")
	}
	if cfg.Performance.MaxRetries < 0 {
		return fmt.Errorf("performance.max_retries must not be negative")
	}
	if cfg.Performance.RetryBaseDelay <= 0 {
		return fmt.Errorf("performance.retry_base_delay must be greater than 0")
	}

	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}

	if cfg.DataPaths.Cache == "" || cfg.DataPaths.Processed == "" {
		return fmt.Errorf("data_paths.cache and data_paths.processed are required")
	}

	if cfg.Extraction.StartDate == "" || cfg.Extraction.EndDate == "" {
		return fmt.Errorf("extraction.start_date and extraction.end_date are required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
