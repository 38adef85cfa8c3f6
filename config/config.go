package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Video    VideoConfig
	Realtime RealtimeConfig
}

// VideoConfig holds the hosted video provider settings. Video is enabled iff APIKey is set.
type VideoConfig struct {
	APIKey             string
	APIURL             string
	WebhookSecret      string // base64; empty disables signature checks
	RoomPrefix         string
	MaxDurationMinutes int
	MaxParticipants    int
	EnableRecording    bool
	RequestTimeoutSec  int
	RoomCacheSize      int
	RoomCacheTTLSec    int
}

// Enabled reports whether the video provider is configured.
func (c VideoConfig) Enabled() bool {
	return c.APIKey != ""
}

// MaxDuration returns the maximum room lifetime.
func (c VideoConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// RequestTimeout bounds every provider call.
func (c VideoConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RoomCacheTTL is how long a looked-up room is reused.
func (c VideoConfig) RoomCacheTTL() time.Duration {
	return time.Duration(c.RoomCacheTTLSec) * time.Second
}

// RealtimeConfig holds WebSocket hub settings.
type RealtimeConfig struct {
	SendBuffer        int // per-connection outbound queue
	TypingLimit       int // typing_start frames per user per window
	TypingIntervalSec int
}

// TypingInterval is the typing limiter window.
func (c RealtimeConfig) TypingInterval() time.Duration {
	return time.Duration(c.TypingIntervalSec) * time.Second
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/coachline?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// AllowedOrigins splits CORSAllowedOrigins.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "coachline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
			MinConns: getEnvInt("DB_MIN_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "coachline-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Video: VideoConfig{
			APIKey:             getEnv("DAILY_API_KEY", ""),
			APIURL:             getEnv("DAILY_API_URL", "https://api.daily.co/v1"),
			WebhookSecret:      getEnv("DAILY_WEBHOOK_SECRET", ""),
			RoomPrefix:         getEnv("VIDEO_ROOM_PREFIX", "session-"),
			MaxDurationMinutes: getEnvInt("VIDEO_MAX_DURATION_MINUTES", 120),
			MaxParticipants:    getEnvInt("VIDEO_MAX_PARTICIPANTS", 2),
			EnableRecording:    getEnvBool("VIDEO_ENABLE_RECORDING", false),
			RequestTimeoutSec:  getEnvInt("VIDEO_REQUEST_TIMEOUT_SEC", 10),
			RoomCacheSize:      getEnvInt("VIDEO_ROOM_CACHE_SIZE", 1024),
			RoomCacheTTLSec:    getEnvInt("VIDEO_ROOM_CACHE_TTL_SEC", 300),
		},
		Realtime: RealtimeConfig{
			SendBuffer:        getEnvInt("WS_SEND_BUFFER", 256),
			TypingLimit:       getEnvInt("WS_TYPING_LIMIT", 10),
			TypingIntervalSec: getEnvInt("WS_TYPING_INTERVAL_SEC", 10),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Video.MaxDurationMinutes <= 0 {
		return fmt.Errorf("VIDEO_MAX_DURATION_MINUTES must be positive, got %d", c.Video.MaxDurationMinutes)
	}
	if c.Video.MaxParticipants < 2 {
		return fmt.Errorf("VIDEO_MAX_PARTICIPANTS must be at least 2, got %d", c.Video.MaxParticipants)
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.TypingLimit <= 0 {
		return fmt.Errorf("WS_TYPING_LIMIT must be positive, got %d", c.Realtime.TypingLimit)
	}
	if c.Realtime.TypingIntervalSec <= 0 {
		return fmt.Errorf("WS_TYPING_INTERVAL_SEC must be positive, got %d", c.Realtime.TypingIntervalSec)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
