package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends
const (
	BackendMemory    = "memory"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	MQTT      MQTTConfig
	JWT       JWTConfig
	Log       LogConfig
	Fleet     FleetConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Backend             string
	MongoURI            string
	MongoDB             string
	FirestoreProjectID  string
	FirebaseCredentials string
	AtomicMaxAttempts   int
}

// MQTTConfig configures the lifecycle event feed. An empty broker disables it.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// JWTConfig holds token signing configuration
type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// FleetConfig holds the business constants
type FleetConfig struct {
	FixedServiceCost       float64
	LowStockThreshold      int
	CriticalStockThreshold int
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// Window returns the configured rate limit window duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// Load loads configuration from an optional .env file and the environment
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Backend:             strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			MongoURI:            getEnv("MONGO_URI", ""),
			MongoDB:             getEnv("MONGO_DB", "fleet"),
			FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			AtomicMaxAttempts:   getEnvAsInt("ATOMIC_MAX_ATTEMPTS", 5),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "fleet-ops"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "fleet"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Expiry: getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Fleet: FleetConfig{
			FixedServiceCost:       getEnvAsFloat("FIXED_SERVICE_COST", 50.0),
			LowStockThreshold:      getEnvAsInt("LOW_STOCK_THRESHOLD", 10),
			CriticalStockThreshold: getEnvAsInt("CRITICAL_STOCK_THRESHOLD", 3),
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}

	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if cfg.Store.MongoURI == "" {
			return nil, fmt.Errorf("STORE_BACKEND=mongo requires MONGO_URI")
		}
	case BackendFirestore:
		if cfg.Store.FirestoreProjectID == "" && cfg.Store.FirebaseCredentials == "" {
			return nil, fmt.Errorf("STORE_BACKEND=firestore requires FIRESTORE_PROJECT_ID or FIREBASE_CREDENTIALS_PATH")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}

	if cfg.Fleet.FixedServiceCost < 0 {
		return nil, fmt.Errorf("FIXED_SERVICE_COST must not be negative")
	}
	if cfg.Fleet.CriticalStockThreshold > cfg.Fleet.LowStockThreshold {
		return nil, fmt.Errorf("CRITICAL_STOCK_THRESHOLD (%d) exceeds LOW_STOCK_THRESHOLD (%d)",
			cfg.Fleet.CriticalStockThreshold, cfg.Fleet.LowStockThreshold)
	}
	if cfg.Store.AtomicMaxAttempts <= 0 {
		cfg.Store.AtomicMaxAttempts = 5
	}

	return cfg, nil
}

// ConfigureLogging applies the level and format to the standard logrus logger
func ConfigureLogging(c LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Format)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
