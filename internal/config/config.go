// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// ErrInvalid is wrapped by every error caused by a malformed value.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Port      string
	DBPath    string
	StaticDir string
	LogLevel  string
	LogFormat string
	Location  *time.Location

	// AllowedOrigins are extra hosts permitted to open the websocket.
	AllowedOrigins []string

	PollInterval    time.Duration
	PushConcurrency int
	SentRetention   time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	Backup BackupConfig
}

type BackupConfig struct {
	S3Endpoint    string
	S3Bucket      string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	Passphrase    string
	Schedule      string
	RetentionDays int
}

// Enabled reports whether enough is configured to upload encrypted backups.
func (b BackupConfig) Enabled() bool {
	return b.S3Bucket != "" && b.S3AccessKey != "" && b.S3SecretKey != "" && b.Passphrase != ""
}

// Load reads configuration from the environment after loading an optional
// .env file. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:      env("CROCHETCAL_PORT", "3000"),
		DBPath:    env("CROCHETCAL_DB_PATH", "data/crochet_calendar.db"),
		StaticDir: env("CROCHETCAL_STATIC_DIR", "public"),
		LogLevel:  strings.ToLower(env("CROCHETCAL_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(env("CROCHETCAL_LOG_FORMAT", "text")),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    env("VAPID_SUBJECT", "mailto:tutor@example.com"),

		Backup: BackupConfig{
			S3Endpoint:  os.Getenv("CROCHETCAL_BACKUP_S3_ENDPOINT"),
			S3Bucket:    os.Getenv("CROCHETCAL_BACKUP_S3_BUCKET"),
			S3Region:    env("CROCHETCAL_BACKUP_S3_REGION", "us-east-1"),
			S3AccessKey: os.Getenv("CROCHETCAL_BACKUP_S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("CROCHETCAL_BACKUP_S3_SECRET_KEY"),
			Passphrase:  os.Getenv("CROCHETCAL_BACKUP_PASSPHRASE"),
			Schedule:    env("CROCHETCAL_BACKUP_SCHEDULE", "0 3 * * *"),
		},
	}

	if origins := os.Getenv("CROCHETCAL_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	var err error
	if _, err = strconv.Atoi(cfg.Port); err != nil {
		return nil, invalid("CROCHETCAL_PORT", cfg.Port, err)
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, invalid("CROCHETCAL_LOG_FORMAT", cfg.LogFormat, errors.New("want text or json"))
	}

	tz := env("CROCHETCAL_TIMEZONE", "Local")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, invalid("CROCHETCAL_TIMEZONE", tz, err)
	}

	if cfg.PollInterval, err = duration("CROCHETCAL_POLL_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SentRetention, err = duration("CROCHETCAL_SENT_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PushConcurrency, err = positiveInt("CROCHETCAL_PUSH_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.Backup.RetentionDays, err = positiveInt("CROCHETCAL_BACKUP_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}

	if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
		return nil, invalid("CROCHETCAL_BACKUP_SCHEDULE", cfg.Backup.Schedule, err)
	}

	if (cfg.VAPIDPublicKey == "") != (cfg.VAPIDPrivateKey == "") {
		return nil, fmt.Errorf("%w: VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together", ErrInvalid)
	}

	return cfg, nil
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, invalid(key, raw, err)
	}
	if d <= 0 {
		return 0, invalid(key, raw, errors.New("must be positive"))
	}
	return d, nil
}

func positiveInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid(key, raw, err)
	}
	if n <= 0 {
		return 0, invalid(key, raw, errors.New("must be positive"))
	}
	return n, nil
}

func invalid(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, value, err)
}
