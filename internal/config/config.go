// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Storage backends for missed answers.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is populated from TWENTYQ_* environment variables. Defaults are
// provided via struct tags.
type Config struct {
	Addr           string `env:"TWENTYQ_ADDR,default=:8080"`
	QuestionBudget int    `env:"TWENTYQ_QUESTION_BUDGET,default=20"`

	// AuthToken enables the bearer gate on the socket endpoints. AuthTokenFile
	// takes precedence and is reloaded when the file changes.
	AuthToken     string `env:"TWENTYQ_AUTH_TOKEN"`
	AuthTokenFile string `env:"TWENTYQ_AUTH_TOKEN_FILE"`

	// OracleURL selects the HTTP oracle. When empty the built-in demo oracle
	// is used.
	OracleURL     string        `env:"TWENTYQ_ORACLE_URL"`
	OracleTimeout time.Duration `env:"TWENTYQ_ORACLE_TIMEOUT,default=20s"`

	Storage        string `env:"TWENTYQ_STORAGE,default=memory"`
	RedisAddr      string `env:"TWENTYQ_REDIS_ADDR,default=localhost:6379"`
	RedisDB        int    `env:"TWENTYQ_REDIS_DB,default=0"`
	SQLitePath     string `env:"TWENTYQ_SQLITE_PATH,default=twentyq.db"`
	MemoryMaxItems int    `env:"TWENTYQ_MEMORY_MAX_ITEMS,default=1024"`

	// MissedTTL expires recorded missed answers. Zero keeps them forever.
	MissedTTL time.Duration `env:"TWENTYQ_MISSED_TTL,default=0s"`

	LogLevel  string `env:"TWENTYQ_LOG_LEVEL,default=info"`
	LogFormat string `env:"TWENTYQ_LOG_FORMAT,default=text"`
}

// Load decodes the environment into a Config and validates it.
func Load() (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv decodes the environment without validating, so callers can apply
// overrides first.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// FieldError names one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every invalid setting found by Validate.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate reports all invalid fields at once.
func (c Config) Validate() error {
	var fields []FieldError
	add := func(field, msg string) { fields = append(fields, FieldError{Field: field, Message: msg}) }

	if c.Addr == "" {
		add("TWENTYQ_ADDR", "must not be empty")
	}
	if c.QuestionBudget <= 0 {
		add("TWENTYQ_QUESTION_BUDGET", "must be positive")
	}
	if c.OracleTimeout <= 0 {
		add("TWENTYQ_ORACLE_TIMEOUT", "must be positive")
	}
	if c.MissedTTL < 0 {
		add("TWENTYQ_MISSED_TTL", "must not be negative")
	}
	switch c.Storage {
	case StorageMemory:
		if c.MemoryMaxItems <= 0 {
			add("TWENTYQ_MEMORY_MAX_ITEMS", "must be positive")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			add("TWENTYQ_REDIS_ADDR", "required for redis storage")
		}
		if c.RedisDB < 0 {
			add("TWENTYQ_REDIS_DB", "must not be negative")
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			add("TWENTYQ_SQLITE_PATH", "required for sqlite storage")
		}
	default:
		add("TWENTYQ_STORAGE", fmt.Sprintf("unknown backend %q", c.Storage))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("TWENTYQ_LOG_LEVEL", err.Error())
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		add("TWENTYQ_LOG_FORMAT", fmt.Sprintf("unknown format %q", c.LogFormat))
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ParseLevel accepts debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
