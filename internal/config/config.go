package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Chat store backends selectable through PHONESYNC_CHAT_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreBrowser  = "browser"
)

type Config struct {
	Addr          string
	ChatStore     string
	ChatID        string
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string
	// Browser store
	BrowserURL    string
	BrowserMatch  string
	BrowserRead   string
	BrowserWrite  string
	BrowserBusy   string
	PollInterval  time.Duration
	DrainInterval time.Duration
	WaitTimeout   time.Duration
	GenerationTTL time.Duration
	QueueMax      int
	HistoryDir    string
	// Object archive, disabled when MinioEndpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// Search, falls back to Postgres or memory when Meili is unreachable
	MeiliURL       string
	MeiliMasterKey string
	// SMTP alerts for error notifications, disabled when SMTPHost or AlertTo is empty
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMTPFromName  string
	AlertTo       []string
	AlertInterval time.Duration
	// HTTP surface
	TokenSecret string
	CORSOrigin  string
	InsertRate  float64
	InsertBurst int
	Development bool
}

// Load reads .env when present, then the process environment.
func Load() Config {
	_ = godotenv.Load(".env")
	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		ChatStore:      strings.ToLower(getenv("PHONESYNC_CHAT_STORE", StoreMemory)),
		ChatID:         getenv("PHONESYNC_CHAT_ID", "default"),
		RedisURL:       getenv("REDIS_URL", ""),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("PHONESYNC_MIGRATIONS_DIR", "./db/migrations"),
		BrowserURL:     getenv("PHONESYNC_BROWSER_URL", ""),
		BrowserMatch:   getenv("PHONESYNC_BROWSER_MATCH", ""),
		BrowserRead:    getenv("PHONESYNC_BROWSER_READ", ""),
		BrowserWrite:   getenv("PHONESYNC_BROWSER_WRITE", ""),
		BrowserBusy:    getenv("PHONESYNC_BROWSER_BUSY", ""),
		PollInterval:   getenvDuration("PHONESYNC_POLL_INTERVAL_MS", 500*time.Millisecond),
		DrainInterval:  getenvDuration("PHONESYNC_DRAIN_INTERVAL_MS", time.Second),
		WaitTimeout:    getenvDuration("PHONESYNC_WAIT_TIMEOUT_MS", 0),
		GenerationTTL:  getenvDuration("PHONESYNC_GENERATION_TTL_MS", 2*time.Minute),
		QueueMax:       getenvInt("PHONESYNC_QUEUE_MAX", 0),
		HistoryDir:     getenv("PHONESYNC_HISTORY_DIR", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "phonesync"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		SMTPHost:       getenv("SMTP_HOST", ""),
		SMTPPort:       getenv("SMTP_PORT", "587"),
		SMTPUsername:   getenv("SMTP_USERNAME", ""),
		SMTPPassword:   getenv("SMTP_PASSWORD", ""),
		SMTPFrom:       getenv("SMTP_FROM", ""),
		SMTPFromName:   getenv("SMTP_FROM_NAME", "phonesync"),
		AlertTo:        getenvList("PHONESYNC_ALERT_TO"),
		AlertInterval:  getenvDuration("PHONESYNC_ALERT_INTERVAL_MS", 5*time.Minute),
		TokenSecret:    getenv("PHONESYNC_TOKEN_SECRET", ""),
		CORSOrigin:     getenv("PHONESYNC_CORS_ORIGIN", "*"),
		InsertRate:     getenvFloat("PHONESYNC_INSERT_RATE", 5),
		InsertBurst:    getenvInt("PHONESYNC_INSERT_BURST", 10),
		Development:    getenvBool("PHONESYNC_DEV", false),
	}
}

// AlertsEnabled reports whether error notifications are mailed.
func (c Config) AlertsEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != "" && len(c.AlertTo) > 0
}

// AuthEnabled reports whether bearer tokens are required on the API.
func (c Config) AuthEnabled() bool {
	return c.TokenSecret != ""
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// getenvList splits a comma separated value, dropping blanks.
func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a millisecond count.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
