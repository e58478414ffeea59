package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the client.
type Config struct {
	WSURL    string // relay websocket endpoint
	APIURL   string // relay HTTP endpoint (attachment presign)
	Nick     string
	Room     string
	DataDir  string
	DiagPort string // local diagnostics port, empty disables
	Env      string

	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration
	MaxAttempts       int
	ChunkSize         int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		WSURL:    getEnv("HCHAT_WS_URL", "wss://chat.hchat.app/ws"),
		APIURL:   getEnv("HCHAT_API_URL", "https://chat.hchat.app"),
		Nick:     getEnv("HCHAT_NICK", "anonymous"),
		Room:     getEnv("HCHAT_ROOM", "lobby"),
		DataDir:  getEnv("HCHAT_DATA_DIR", defaultDataDir()),
		DiagPort: os.Getenv("HCHAT_DIAG_PORT"),
		Env:      getEnv("ENV", "development"),

		ReconnectDelay:    getEnvDuration("HCHAT_RECONNECT_DELAY", 3*time.Second),
		KeepaliveInterval: getEnvDuration("HCHAT_KEEPALIVE_INTERVAL", 20*time.Second),
		MaxAttempts:       getEnvInt("HCHAT_MAX_ATTEMPTS", 5),
		ChunkSize:         getEnvInt("HCHAT_CHUNK_SIZE", 256*1024),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hchat"
	}
	return filepath.Join(home, ".hchat")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
