package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/auditd-ingest/internal/domain"
)

// Skip-file methods select which stored time a file's modification time is
// compared against.
const (
	SkipFileByLastRun   = "by_last_run"
	SkipFileByLastEvent = "by_last_event"
)

// Skip-event methods select how already ingested events are recognized.
const (
	SkipEventByDate      = string(domain.SkipEventByDate)
	SkipEventByExistence = string(domain.SkipEventByExistence)
)

// Malformed event policies.
const (
	MalformedAbortFile = string(domain.MalformedAbortFile)
	MalformedSkipEvent = string(domain.MalformedSkipEvent)
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	AuditLogsPath        string `env:"AUDIT_LOGS_PATH" envDefault:"auditd_logs/"`
	SkipFileMethod       string `env:"SKIP_FILE_METHOD" envDefault:"by_last_event"`
	SkipEventMethod      string `env:"SKIP_EVENT_METHOD" envDefault:"by_existence"`
	MalformedEventPolicy string `env:"MALFORMED_EVENT_POLICY" envDefault:"abort_file"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	StoreDSN    string `env:"STORE_DSN" envDefault:"auditd_logs.db"`

	QuarantinePath        string `env:"QUARANTINE_PATH"`
	QuarantineSegmentSize int64  `env:"QUARANTINE_SEGMENT_SIZE_BYTES" envDefault:"10485760"`   // 10MB
	QuarantineMaxDiskSize int64  `env:"QUARANTINE_MAX_DISK_SIZE_BYTES" envDefault:"104857600"` // 100MB
	PIIRedactionFields    string `env:"PII_REDACTION_FIELDS"`                                   // Comma-separated fields blanked in quarantine

	RedisAddr   string        `env:"REDIS_ADDR"`
	RunLockKey  string        `env:"RUN_LOCK_KEY" envDefault:"auditd_ingest:run_lock"`
	RunLockTTL  time.Duration `env:"RUN_LOCK_TTL" envDefault:"30m"`
	PushGateway string        `env:"PUSHGATEWAY_URL"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects unknown policy values.
func (c *Config) Validate() error {
	switch c.SkipFileMethod {
	case SkipFileByLastRun, SkipFileByLastEvent:
	default:
		return fmt.Errorf("invalid SKIP_FILE_METHOD %q (want %s or %s)", c.SkipFileMethod, SkipFileByLastRun, SkipFileByLastEvent)
	}

	switch c.SkipEventMethod {
	case SkipEventByDate, SkipEventByExistence:
	default:
		return fmt.Errorf("invalid SKIP_EVENT_METHOD %q (want %s or %s)", c.SkipEventMethod, SkipEventByDate, SkipEventByExistence)
	}

	switch c.MalformedEventPolicy {
	case MalformedAbortFile, MalformedSkipEvent:
	default:
		return fmt.Errorf("invalid MALFORMED_EVENT_POLICY %q (want %s or %s)", c.MalformedEventPolicy, MalformedAbortFile, MalformedSkipEvent)
	}

	if c.AuditLogsPath == "" {
		return fmt.Errorf("AUDIT_LOGS_PATH must not be empty")
	}
	if c.RedisAddr != "" && c.RunLockTTL <= 0 {
		return fmt.Errorf("RUN_LOCK_TTL must be positive, got %s", c.RunLockTTL)
	}
	return nil
}

// CompareColumn maps the skip-file method to the stored time it compares against.
func (c *Config) CompareColumn() domain.TimestampColumn {
	if c.SkipFileMethod == SkipFileByLastRun {
		return domain.ColumnProcessedAt
	}
	return domain.ColumnEventTimestamp
}

// SkipEventPolicy returns the validated skip-event method.
func (c *Config) SkipEventPolicy() domain.SkipEventPolicy {
	return domain.SkipEventPolicy(c.SkipEventMethod)
}

// MalformedPolicy returns the validated malformed event policy.
func (c *Config) MalformedPolicy() domain.MalformedPolicy {
	return domain.MalformedPolicy(c.MalformedEventPolicy)
}
