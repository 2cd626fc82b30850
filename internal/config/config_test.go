package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Addr != ":8080" || cfg.QuestionBudget != 20 || cfg.Storage != StorageMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OracleTimeout != 20*time.Second || cfg.MemoryMaxItems != 1024 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != LogFormatText {
		t.Fatalf("unexpected log defaults: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TWENTYQ_ADDR", "127.0.0.1:9000")
	t.Setenv("TWENTYQ_QUESTION_BUDGET", "5")
	t.Setenv("TWENTYQ_ORACLE_URL", "http://oracle.local/next")
	t.Setenv("TWENTYQ_ORACLE_TIMEOUT", "3s")
	t.Setenv("TWENTYQ_STORAGE", "redis")
	t.Setenv("TWENTYQ_REDIS_ADDR", "redis:6379")
	t.Setenv("TWENTYQ_REDIS_DB", "2")
	t.Setenv("TWENTYQ_LOG_LEVEL", "DEBUG")
	t.Setenv("TWENTYQ_LOG_FORMAT", "json")
	t.Setenv("TWENTYQ_MISSED_TTL", "720h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	want := Config{
		Addr:           "127.0.0.1:9000",
		QuestionBudget: 5,
		OracleURL:      "http://oracle.local/next",
		OracleTimeout:  3 * time.Second,
		Storage:        StorageRedis,
		RedisAddr:      "redis:6379",
		RedisDB:        2,
		SQLitePath:     "twentyq.db",
		MemoryMaxItems: 1024,
		MissedTTL:      720 * time.Hour,
		LogLevel:       "DEBUG",
		LogFormat:      LogFormatJSON,
	}
	if cfg != want {
		t.Fatalf("Load() = %+v, want %+v", cfg, want)
	}
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("TWENTYQ_QUESTION_BUDGET", "many")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should fail on a non-numeric budget")
	}
}

func TestValidateEnumeratesFields(t *testing.T) {
	cfg := Config{
		Addr:           "",
		QuestionBudget: 0,
		OracleTimeout:  time.Second,
		Storage:        "etcd",
		LogLevel:       "loud",
		LogFormat:      "xml",
	}
	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v, want *ValidationError", err)
	}
	got := map[string]bool{}
	for _, f := range verr.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"TWENTYQ_ADDR", "TWENTYQ_QUESTION_BUDGET", "TWENTYQ_STORAGE", "TWENTYQ_LOG_LEVEL", "TWENTYQ_LOG_FORMAT"} {
		if !got[want] {
			t.Errorf("missing field %s in %v", want, verr.Fields)
		}
	}
	if len(verr.Fields) != 5 {
		t.Errorf("got %d fields, want 5: %v", len(verr.Fields), verr.Fields)
	}
}

func TestValidateBackendSpecificFields(t *testing.T) {
	base := Config{Addr: ":8080", QuestionBudget: 20, OracleTimeout: time.Second, LogLevel: "info", LogFormat: "text"}

	tests := []struct {
		name  string
		apply func(*Config)
		field string
	}{
		{"memory capacity", func(c *Config) { c.Storage = StorageMemory; c.MemoryMaxItems = 0 }, "TWENTYQ_MEMORY_MAX_ITEMS"},
		{"redis addr", func(c *Config) { c.Storage = StorageRedis; c.RedisAddr = "" }, "TWENTYQ_REDIS_ADDR"},
		{"redis db", func(c *Config) { c.Storage = StorageRedis; c.RedisAddr = "x:1"; c.RedisDB = -1 }, "TWENTYQ_REDIS_DB"},
		{"negative retention", func(c *Config) { c.Storage = StorageMemory; c.MemoryMaxItems = 1; c.MissedTTL = -time.Second }, "TWENTYQ_MISSED_TTL"},
		{"sqlite path", func(c *Config) { c.Storage = StorageSQLite; c.SQLitePath = "" }, "TWENTYQ_SQLITE_PATH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.apply(&c)
			var verr *ValidationError
			if err := c.Validate(); !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v", err)
			}
			if len(verr.Fields) != 1 || verr.Fields[0].Field != tt.field {
				t.Fatalf("fields = %v, want only %s", verr.Fields, tt.field)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, " warn ": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}
