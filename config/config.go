// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	ListenAddr     string
	Debug          bool
	LogFormat      string
	AllowedOrigins []string

	StorageDriver string
	DatabaseDSN   string

	RedisConnection    string
	SnapshotTTL        time.Duration
	BoardEventsChannel string
	ServiceToken       string

	JWTSecret     string
	Auth0Domain   string
	Auth0Audience string
	JWKSCacheTTL  time.Duration

	HandshakeTimeout time.Duration
	ActionTimeout    time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int

	StorageConnection string
	ChatTable         string

	ActivityQueue          string
	ActivityWorkers        int
	ActivityBuffer         int
	ActivityEnqueueTimeout time.Duration
	ActivityHandoffTimeout time.Duration
}

// Load reads the configuration and validates the combinations that must go together.
func Load() (Config, error) {
	c := Config{
		ListenAddr:     envString("LISTEN_ADDR", ":9000"),
		Debug:          envBool("DEBUG", false),
		LogFormat:      envString("LOG_FORMAT", "text"),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),

		StorageDriver: strings.ToLower(envString("STORAGE_DRIVER", DriverMemory)),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),

		RedisConnection:    os.Getenv("REDIS_CONNECTION_STRING"),
		SnapshotTTL:        envDur("SNAPSHOT_TTL", 30*time.Second),
		BoardEventsChannel: envString("BOARD_EVENTS_CHANNEL", "board-events"),
		ServiceToken:       os.Getenv("SERVICE_TOKEN"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		JWKSCacheTTL:  envDur("JWKS_CACHE_TTL", 15*time.Minute),

		HandshakeTimeout: envDur("HANDSHAKE_TIMEOUT", 5*time.Second),
		ActionTimeout:    envDur("ACTION_TIMEOUT", 10*time.Second),
		WriteTimeout:     envDur("WRITE_TIMEOUT", 10*time.Second),
		SendBuffer:       envInt("CLIENT_SEND_BUFFER", 64),

		StorageConnection: os.Getenv("STORAGE_CONNECTION_STRING"),
		ChatTable:         os.Getenv("CHAT_TABLE"),

		ActivityQueue:          os.Getenv("ACTIVITY_QUEUE"),
		ActivityWorkers:        envInt("ACTIVITY_WORKERS", 4),
		ActivityBuffer:         envInt("ACTIVITY_BUFFER", 1024),
		ActivityEnqueueTimeout: envDur("ACTIVITY_ENQUEUE_TIMEOUT", 30*time.Second),
		ActivityHandoffTimeout: envDur("ACTIVITY_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required when STORAGE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		return fmt.Errorf("missing auth config: set JWT_SECRET or AUTH0_DOMAIN and AUTH0_AUDIENCE")
	}
	if (c.ChatTable != "" || c.ActivityQueue != "") && c.StorageConnection == "" {
		return fmt.Errorf("STORAGE_CONNECTION_STRING is required for CHAT_TABLE and ACTIVITY_QUEUE")
	}
	return nil
}

// RedisOptions parses either a redis:// URL or the host:port,password=...,ssl=true form.
func (c Config) RedisOptions() (*redis.Options, bool) {
	if c.RedisConnection == "" {
		return nil, false
	}
	return ParseRedis(c.RedisConnection), true
}

func ParseRedis(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
