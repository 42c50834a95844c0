package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration for the design control engine.
type Server struct {
	Addr          string
	DatabaseURL   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWTSigningKey string
	// StrictSinglePhase enforces the one-active-phase-at-a-time policy.
	// Kept as a switch so regulatory affairs can relax it deliberately,
	// never by accident. Defaults to strict.
	StrictSinglePhase bool
}

// RedisConfig configures the optional traceability graph cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GraphTTL     time.Duration
}

// KafkaConfig configures the optional audit outbox publisher.
type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	PollInterval time.Duration
}

// GraphCacheTTL bounds staleness of cached traceability graph reads.
var GraphCacheTTL = 30 * time.Second

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("DHF_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	strict := true
	if v := os.Getenv("DHF_STRICT_SINGLE_PHASE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			strict = parsed
		}
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}
	auditTopic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "dhf.audit-trail"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			GraphTTL:     GraphCacheTTL,
		},
		Kafka: KafkaConfig{
			Brokers:      brokers,
			AuditTopic:   auditTopic,
			PollInterval: 2 * time.Second,
		},
		JWTSigningKey:     jwtSigningKey,
		StrictSinglePhase: strict,
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
