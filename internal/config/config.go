package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string     `json:"serverAddress"`
	DatabasePath  string     `json:"databasePath"`
	DatabaseURL   string     `json:"databaseUrl"`
	RedisAddr     string     `json:"redisAddr"`
	Cloudinary    Cloudinary `json:"cloudinary"`
	Sync          Sync       `json:"sync"`
	Security      Security   `json:"security"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Cloudinary holds asset store credentials and call limits
type Cloudinary struct {
	CloudName      string `json:"cloudName"`
	APIKey         string `json:"apiKey"`
	APISecret      string `json:"apiSecret"`
	UploadFolder   string `json:"uploadFolder"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	PageSize       int    `json:"pageSize"`
}

// Timeout returns the per-call deadline for store requests.
func (c Cloudinary) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Sync configuration for the reconciliation and cleanup schedules
type Sync struct {
	IntervalMinutes        int  `json:"intervalMinutes"`
	CleanupIntervalMinutes int  `json:"cleanupIntervalMinutes"`
	BatchSize              int  `json:"batchSize"`
	CleanupBatchSize       int  `json:"cleanupBatchSize"`
	MaxCleanupAttempts     int  `json:"maxCleanupAttempts"`
	BackoffBaseSeconds     int  `json:"backoffBaseSeconds"`
	BackoffCapMinutes      int  `json:"backoffCapMinutes"`
	AutoStart              bool `json:"autoStart"`
	OperationRetentionDays int  `json:"operationRetentionDays"`
	SnapshotKeep           int  `json:"snapshotKeep"`
}

// Interval returns the full sync cadence.
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// CleanupInterval returns the cleanup drain cadence.
func (s Sync) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMinutes) * time.Minute
}

// BackoffBase returns the first retry delay for failed cleanups.
func (s Sync) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the ceiling on cleanup retry delays.
func (s Sync) BackoffCap() time.Duration {
	return time.Duration(s.BackoffCapMinutes) * time.Minute
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "mediamirror.db",
		Cloudinary: Cloudinary{
			UploadFolder:   "registry",
			TimeoutSeconds: 30,
			PageSize:       500,
		},
		Sync: Sync{
			IntervalMinutes:        60,
			CleanupIntervalMinutes: 5,
			BatchSize:              100,
			CleanupBatchSize:       25,
			MaxCleanupAttempts:     5,
			BackoffBaseSeconds:     30,
			BackoffCapMinutes:      30,
			AutoStart:              false,
			OperationRetentionDays: 30,
			SnapshotKeep:           500,
		},
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	// Cloudinary credentials come from the environment in deployment
	if cloudName := os.Getenv("CLOUDINARY_CLOUD_NAME"); cloudName != "" {
		cfg.Cloudinary.CloudName = cloudName
	}
	if key := os.Getenv("CLOUDINARY_API_KEY"); key != "" {
		cfg.Cloudinary.APIKey = key
	}
	if secret := os.Getenv("CLOUDINARY_API_SECRET"); secret != "" {
		cfg.Cloudinary.APISecret = secret
	}
	if folder := os.Getenv("CLOUDINARY_UPLOAD_FOLDER"); folder != "" {
		cfg.Cloudinary.UploadFolder = folder
	}

	// Sync schedule configuration
	if interval := os.Getenv("SYNC_INTERVAL_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
			cfg.Sync.IntervalMinutes = minutes
		}
	}
	if interval := os.Getenv("CLEANUP_INTERVAL_MINUTES"); interval != "" {
		if minutes, err := strconv.Atoi(interval); err == nil && minutes > 0 {
			cfg.Sync.CleanupIntervalMinutes = minutes
		}
	}
	if batch := os.Getenv("SYNC_BATCH_SIZE"); batch != "" {
		if size, err := strconv.Atoi(batch); err == nil && size > 0 {
			cfg.Sync.BatchSize = size
		}
	}
	if autoStart := os.Getenv("SYNC_AUTO_START"); autoStart != "" {
		cfg.Sync.AutoStart = autoStart == "true" || autoStart == "1"
	}

	return cfg, nil
}
