package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	RedisAddr string

	HardwareAPIKey string
	HardwareIDs    []string

	PubNub PubNubConfig

	LockTimeout       time.Duration
	PaymentExpiry     time.Duration
	OrderRetention    time.Duration
	HardwareStaleTime time.Duration
	SnapshotInterval  time.Duration
	KeepAliveInterval time.Duration
}

func LoadConfig() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8081"),
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       parseLogLevel(getEnv("LOG_LEVEL", "info")),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		HardwareAPIKey: getEnv("HARDWARE_API_KEY", DefaultHardwareAPIKey),
		HardwareIDs:    splitList(getEnv("HARDWARE_IDS", DefaultHardwareID)),
		PubNub: PubNubConfig{
			PublishKey:   os.Getenv("PN_PUBLISH_KEY"),
			SubscribeKey: os.Getenv("PN_SUBSCRIBE_KEY"),
			SecretKey:    os.Getenv("PN_SECRET_KEY"),
			ServerUserID: getEnv("PN_USER_ID", "kiosk-server"),
			ClientUserID: getEnv("PN_SUBSCRIBER_ID", "kiosk-client"),
			TokenTTL:     getEnvInt("PN_TOKEN_TTL_MINUTES", defaultTokenTTL),
		},
		LockTimeout:       getEnvDuration("KIOSK_LOCK_TIMEOUT", DefaultLockTimeout),
		PaymentExpiry:     getEnvDuration("PAYMENT_EXPIRY", DefaultPaymentExpiry),
		OrderRetention:    getEnvDuration("ORDER_RETENTION", 24*time.Hour),
		HardwareStaleTime: getEnvDuration("HARDWARE_STALE_AFTER", 30*time.Second),
		SnapshotInterval:  getEnvDuration("STREAM_SNAPSHOT_INTERVAL", 2*time.Second),
		KeepAliveInterval: getEnvDuration("STREAM_KEEPALIVE_INTERVAL", 30*time.Second),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
