package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures configuration for the console process.
type Server struct {
	Addr          string
	ShutdownGrace time.Duration
	// CallTimeout bounds every record store call the controller issues.
	CallTimeout time.Duration
	Log         LogConfig
	RecordStore RecordStoreClientConfig
	// Store is only used when RecordStore.URL is empty and the console runs
	// the store in process.
	Store StoreConfig
}

// RecordStoreClientConfig configures the remote record store client.
type RecordStoreClientConfig struct {
	URL     string
	Timeout time.Duration
	Breaker BreakerConfig
}

// BreakerConfig configures the client's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// RecordStore captures configuration for the reference record store process.
type RecordStore struct {
	Addr          string
	ShutdownGrace time.Duration
	Log           LogConfig
	Store         StoreConfig
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend  string // memory, postgres or redis
	Search   SearchConfig
	Postgres PostgresConfig
	Redis    RedisConfig
}

// SearchConfig is the identifier match policy for search.
type SearchConfig struct {
	MatchMode     string // exact, prefix or substring
	CaseSensitive bool
}

type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

type RedisConfig struct {
	URL          string
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var p parser
	cfg := Server{
		Addr:          p.str("TAXDESK_ADDR", ":8080"),
		ShutdownGrace: p.duration("TAXDESK_SHUTDOWN_GRACE", 10*time.Second),
		CallTimeout:   p.duration("TAXDESK_CALL_TIMEOUT", 10*time.Second),
		Log:           p.log(),
		RecordStore: RecordStoreClientConfig{
			URL:     p.str("RECORD_STORE_URL", ""),
			Timeout: p.duration("RECORD_STORE_TIMEOUT", 5*time.Second),
			Breaker: BreakerConfig{
				FailureThreshold: p.integer("RECORD_STORE_BREAKER_FAILURES", 5),
				SuccessThreshold: p.integer("RECORD_STORE_BREAKER_SUCCESSES", 1),
				Cooldown:         p.duration("RECORD_STORE_BREAKER_COOLDOWN", 10*time.Second),
			},
		},
		Store: p.store(),
	}
	return cfg, p.err()
}

// RecordStoreFromEnv builds the reference store config.
func RecordStoreFromEnv() (RecordStore, error) {
	var p parser
	cfg := RecordStore{
		Addr:          p.str("RECORDSTORE_ADDR", ":8081"),
		ShutdownGrace: p.duration("RECORDSTORE_SHUTDOWN_GRACE", 10*time.Second),
		Log:           p.log(),
		Store:         p.store(),
	}
	return cfg, p.err()
}

// parser collects every malformed variable instead of stopping at the first.
type parser struct {
	errs []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) oneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(p.str(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	p.errs = append(p.errs, fmt.Sprintf("%s: %q is not one of %s", key, v, strings.Join(allowed, ", ")))
	return def
}

func (p *parser) log() LogConfig {
	return LogConfig{
		Level:  p.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"),
		Format: p.oneOf("LOG_FORMAT", "json", "json", "text"),
	}
}

func (p *parser) store() StoreConfig {
	cfg := StoreConfig{
		Backend: p.oneOf("STORE_BACKEND", BackendMemory, BackendMemory, BackendPostgres, BackendRedis),
		Search: SearchConfig{
			MatchMode:     p.oneOf("SEARCH_MATCH_MODE", "substring", "exact", "prefix", "substring"),
			CaseSensitive: p.boolean("SEARCH_CASE_SENSITIVE", false),
		},
		Postgres: PostgresConfig{
			URL:             p.str("DATABASE_URL", ""),
			MaxConns:        int32(p.integer("DATABASE_MAX_CONNS", 10)),
			MinConns:        int32(p.integer("DATABASE_MIN_CONNS", 0)),
			MaxConnLifetime: p.duration("DATABASE_MAX_CONN_LIFETIME", time.Hour),
			ConnectTimeout:  p.duration("DATABASE_CONNECT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			KeyPrefix:    p.str("REDIS_KEY_PREFIX", "taxpayer:"),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
	switch cfg.Backend {
	case BackendPostgres:
		if cfg.Postgres.URL == "" {
			p.errs = append(p.errs, "DATABASE_URL: required when STORE_BACKEND=postgres")
		}
	case BackendRedis:
		if cfg.Redis.URL == "" {
			p.errs = append(p.errs, "REDIS_URL: required when STORE_BACKEND=redis")
		}
	}
	return cfg
}

func (p *parser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
}
