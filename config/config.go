package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type RateLimit struct {
	Burst    int
	Interval time.Duration
}

type Config struct {
	Port                  string
	LogLevel              slog.Level
	AllowedOrigins        []string
	SendBuffer            int
	FailureThreshold      int
	MaxMessageSize        int64
	WriteWait             time.Duration
	PongWait              time.Duration
	RateLimit             RateLimit
	PresenceNotifications bool
	IngressToken          string
	DatabaseURL           string
	NotifyChannel         string
	ShutdownTimeout       time.Duration
}

func Default() Config {
	return Config{
		Port:             "8080",
		LogLevel:         slog.LevelInfo,
		SendBuffer:       256,
		FailureThreshold: 3,
		MaxMessageSize:   4096,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		RateLimit: RateLimit{
			Burst:    20,
			Interval: time.Second,
		},
		NotifyChannel:   "taskflow_events",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads an optional .env file and then the process environment.
// Unset or invalid values keep their defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) Config {
	cfg := Default()

	if v := getenv("PORT"); v != "" {
		cfg.Port = strings.TrimPrefix(v, ":")
	}
	cfg.LogLevel = parseLevel(getenv("LOG_LEVEL"), cfg.LogLevel)
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	cfg.SendBuffer = parseInt(getenv("SEND_BUFFER"), cfg.SendBuffer)
	cfg.FailureThreshold = parseInt(getenv("FAILURE_THRESHOLD"), cfg.FailureThreshold)
	cfg.MaxMessageSize = int64(parseInt(getenv("MAX_MESSAGE_SIZE"), int(cfg.MaxMessageSize)))
	cfg.WriteWait = parseDuration(getenv("WRITE_WAIT"), cfg.WriteWait)
	cfg.PongWait = parseDuration(getenv("PONG_WAIT"), cfg.PongWait)
	cfg.RateLimit.Burst = parseInt(getenv("RATE_LIMIT_BURST"), cfg.RateLimit.Burst)
	cfg.RateLimit.Interval = parseDuration(getenv("RATE_LIMIT_INTERVAL"), cfg.RateLimit.Interval)
	cfg.PresenceNotifications = parseBool(getenv("PRESENCE_NOTIFICATIONS"), cfg.PresenceNotifications)
	cfg.IngressToken = getenv("INGRESS_TOKEN")
	cfg.DatabaseURL = getenv("DATABASE_URL")
	if v := getenv("NOTIFY_CHANNEL"); v != "" {
		cfg.NotifyChannel = v
	}
	cfg.ShutdownTimeout = parseDuration(getenv("SHUTDOWN_TIMEOUT"), cfg.ShutdownTimeout)

	return cfg
}

func (c Config) Addr() string {
	return ":" + c.Port
}

func parseLevel(value string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return fallback
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(value string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
		return n
	}
	return fallback
}

// parseDuration accepts Go duration strings ("250ms") or whole seconds ("5").
func parseDuration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseBool(value string, fallback bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}
	return fallback
}
