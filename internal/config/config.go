package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string
	TLSAddr    string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// SessionTTL bounds the lifetime of a proxy config; it is distinct from a
	// journal's per-request upstream timeout.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	RateLimit       int
	RateLimitWindow time.Duration

	HAProxySocket     string
	HAProxyConfigPath string
	ProxyConfigDir    string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	LogJSON bool
}

func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		TLSAddr:    getEnv("TLS_ADDR", ""),

		JWTAccessSecret:  mustGetEnv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: mustGetEnv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:  getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),

		RateLimit:       getEnvInt("RATE_LIMIT", 10),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		HAProxySocket:     getEnv("HAPROXY_SOCKET", "/run/haproxy/admin.sock"),
		HAProxyConfigPath: getEnv("HAPROXY_CONFIG_PATH", "/etc/haproxy/haproxy.cfg"),
		ProxyConfigDir:    getEnv("PROXY_CONFIG_DIR", "/var/lib/libproxy/configs"),

		S3Bucket:    getEnv("S3_BUCKET", "libproxy-exports"),
		S3Region:    getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		PostgresUser:     getEnv("POSTGRES_USER", "libproxy"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "libproxy"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		LogJSON: getEnvBool("LOG_JSON", false),
	}
}

// ArchiveEnabled reports whether export snapshots should be uploaded to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3AccessKey != "" && c.S3SecretKey != ""
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
