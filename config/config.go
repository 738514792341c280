package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Scoring  ScoringConfig
	Archive  ArchiveConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port        int
	MaxUploadMB int
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Path     string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host           string
	Port           int
	Password       string
	DB             int
	ConnectRetries int
	ResultsTTL     time.Duration
}

// Enabled reports whether a Redis host was configured at all.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type CORSConfig struct {
	AllowedOrigins string
}

type ScoringConfig struct {
	Provider          string
	URL               string
	Timeout           time.Duration
	DecisionThreshold float64
	RequiredColumns   []string
	ModelVersion      string
}

type ArchiveConfig struct {
	Backend         string
	Dir             string
	Bucket          string
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
}

type LogConfig struct {
	Level  string
	Format string
}

const defaultRequiredColumns = "customer_id,tenure,monthly_charges,total_charges,contract_type"

func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	serverPort, err := getIntEnv(v, "SERVER_PORT")
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	maxUploadMB, err := getIntEnv(v, "MAX_UPLOAD_MB")
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}
	dbPort, err := getIntEnv(v, "DB_PORT")
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	redisPort, err := getIntEnv(v, "REDIS_PORT")
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	redisDB, err := getIntEnv(v, "REDIS_DB")
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	redisRetries, err := getIntEnv(v, "REDIS_CONNECT_RETRIES")
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_CONNECT_RETRIES: %w", err)
	}
	resultsTTL, err := getIntEnv(v, "RESULTS_CACHE_TTL_SEC")
	if err != nil {
		return nil, fmt.Errorf("invalid RESULTS_CACHE_TTL_SEC: %w", err)
	}
	scoringTimeout, err := getIntEnv(v, "SCORING_TIMEOUT_SEC")
	if err != nil {
		return nil, fmt.Errorf("invalid SCORING_TIMEOUT_SEC: %w", err)
	}
	threshold, err := getFloatEnv(v, "SCORING_DECISION_THRESHOLD")
	if err != nil {
		return nil, fmt.Errorf("invalid SCORING_DECISION_THRESHOLD: %w", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("invalid SCORING_DECISION_THRESHOLD: %v is outside [0,1]", threshold)
	}

	required, err := parseColumnList(v.GetString("SCORING_REQUIRED_COLUMNS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCORING_REQUIRED_COLUMNS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        serverPort,
			MaxUploadMB: maxUploadMB,
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
			Host:     v.GetString("DB_HOST"),
			Port:     dbPort,
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			Path:     v.GetString("DB_PATH"),
		},
		Redis: RedisConfig{
			Host:           v.GetString("REDIS_HOST"),
			Port:           redisPort,
			Password:       v.GetString("REDIS_PASSWORD"),
			DB:             redisDB,
			ConnectRetries: redisRetries,
			ResultsTTL:     time.Duration(resultsTTL) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetString("CORS_ALLOWED_ORIGINS"),
		},
		Scoring: ScoringConfig{
			Provider:          strings.ToLower(v.GetString("SCORING_PROVIDER")),
			URL:               v.GetString("SCORING_URL"),
			Timeout:           time.Duration(scoringTimeout) * time.Second,
			DecisionThreshold: threshold,
			RequiredColumns:   required,
			ModelVersion:      v.GetString("MODEL_VERSION"),
		},
		Archive: ArchiveConfig{
			Backend:         strings.ToLower(v.GetString("ARCHIVE_BACKEND")),
			Dir:             v.GetString("ARCHIVE_DIR"),
			Bucket:          v.GetString("ARCHIVE_S3_BUCKET"),
			Region:          v.GetString("ARCHIVE_S3_REGION"),
			EndpointURL:     v.GetString("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     v.GetString("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: want postgres or sqlite", c.Database.Driver)
	}
	switch c.Scoring.Provider {
	case "baseline":
	case "http":
		if c.Scoring.URL == "" {
			return fmt.Errorf("SCORING_URL is required when SCORING_PROVIDER=http")
		}
	default:
		return fmt.Errorf("invalid SCORING_PROVIDER %q: want baseline or http", c.Scoring.Provider)
	}
	switch c.Archive.Backend {
	case "none", "local":
	case "s3":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("invalid ARCHIVE_BACKEND %q: want none, local or s3", c.Archive.Backend)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB: must be positive")
	}
	if c.Scoring.Timeout <= 0 {
		return fmt.Errorf("invalid SCORING_TIMEOUT_SEC: must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("MAX_UPLOAD_MB", 20)

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "churn")
	v.SetDefault("DB_PASSWORD", "churn_dev_password")
	v.SetDefault("DB_NAME", "churn")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_PATH", "data/churn.db")

	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CONNECT_RETRIES", 3)
	v.SetDefault("RESULTS_CACHE_TTL_SEC", 600)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("SCORING_PROVIDER", "baseline")
	v.SetDefault("SCORING_TIMEOUT_SEC", 30)
	v.SetDefault("SCORING_DECISION_THRESHOLD", 0.6)
	v.SetDefault("SCORING_REQUIRED_COLUMNS", defaultRequiredColumns)
	v.SetDefault("MODEL_VERSION", "baseline-v1")

	v.SetDefault("ARCHIVE_BACKEND", "local")
	v.SetDefault("ARCHIVE_DIR", "data/uploads")
	v.SetDefault("ARCHIVE_S3_REGION", "us-east-1")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func getIntEnv(v *viper.Viper, key string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v.GetString(key)))
}

func getFloatEnv(v *viper.Viper, key string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
}

// parseColumnList splits a comma separated column list. Duplicates are rejected
// because a required schema with repeated names has no defined mapping.
func parseColumnList(raw string) ([]string, error) {
	seen := make(map[string]struct{})
	var cols []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		cols = append(cols, name)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}
	return cols, nil
}
