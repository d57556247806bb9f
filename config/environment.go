package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names honoured as overrides over the YAML file.
// AWS credentials follow the SDK's standard names.
const (
	envSymbols      = "VNFLOW_SYMBOLS"
	envStartDate    = "VNFLOW_START_DATE"
	envEndDate      = "VNFLOW_END_DATE"
	envMaxRetries   = "VNFLOW_MAX_RETRIES"
	envConcurrency  = "VNFLOW_CONCURRENCY"
	envForceRefresh = "VNFLOW_FORCE_REFRESH"
	envCacheDir     = "VNFLOW_CACHE_DIR"
	envProcessedDir = "VNFLOW_PROCESSED_DIR"
	envLogLevel     = "LOG_LEVEL"
)

// applyEnvOverrides layers environment variables over the loaded file.
// Invalid numeric values are ignored rather than failing the load; the
// validated file value stays in effect.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envSymbols); v != "" {
		parsed := splitCSV(v)
		if len(parsed) > 0 {
			cfg.MarketScope.Symbols = parsed
		}
	}
	if v := os.Getenv(envStartDate); v != "" {
		cfg.Extraction.StartDate = strings.TrimSpace(v)
	}
	if v := os.Getenv(envEndDate); v != "" {
		cfg.Extraction.EndDate = strings.TrimSpace(v)
	}
	if v := os.Getenv(envMaxRetries); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.Performance.MaxRetries = n
		}
	}
	if v := os.Getenv(envConcurrency); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Performance.ConcurrencyLimit = n
		}
	}
	if v := os.Getenv(envForceRefresh); v != "" {
		cfg.MarketScope.ForceRefresh = parseBool(v)
	}
	if v := os.Getenv(envCacheDir); v != "" {
		cfg.DataPaths.Cache = strings.TrimSpace(v)
	}
	if v := os.Getenv(envProcessedDir); v != "" {
		cfg.DataPaths.Processed = strings.TrimSpace(v)
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}

	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
