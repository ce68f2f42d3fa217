package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/medminder/medminder/internal/logger"
)

const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

type Config struct {
	TelegramToken string
	Storage       StorageConfig
	Redis         RedisConfig
	Reminders     ReminderConfig
	Connectivity  ConnectivityConfig
	Logger        LoggerConfig
}

type StorageConfig struct {
	Backend             string // "firestore" or "postgres"
	FirebaseCredentials string
	FirebaseProjectID   string
	DB                  DBConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	Enabled bool
	Host    string
	Port    string
}

// ReminderConfig carries the local notification settings. They are read-only
// inputs to the reminder orchestrator, not part of dose tracking itself.
type ReminderConfig struct {
	NotificationsEnabled bool
	VibrationEnabled     bool
	SoundEnabled         bool
	RepeatCount          int
	StockAlertLeadDays   int
}

type ConnectivityConfig struct {
	ProbeAddress   string
	TimeoutSeconds int
}

type LoggerConfig struct {
	Level      logger.LogLevel
	OutputPath string
	Format     string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.LevelDebug
	case "info":
		return logger.LevelInfo
	case "warn", "warning":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		Storage: StorageConfig{
			Backend:             getEnvOrDefault("STORAGE_BACKEND", BackendFirestore),
			FirebaseCredentials: getEnvOrDefault("FIREBASE_CREDENTIALS", "firebase-credentials.json"),
			FirebaseProjectID:   os.Getenv("FIREBASE_PROJECT_ID"),
			DB: DBConfig{
				Host:     getEnvOrDefault("DB_HOST", "localhost"),
				Port:     getEnvOrDefault("DB_PORT", "5432"),
				User:     getEnvOrDefault("DB_USER", "postgres"),
				Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
				DBName:   getEnvOrDefault("DB_NAME", "medminder"),
			},
		},
		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			Host:    getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:    getEnvOrDefault("REDIS_PORT", "6379"),
		},
		Reminders: ReminderConfig{
			NotificationsEnabled: getEnvBool("NOTIFICATIONS_ENABLED", true),
			VibrationEnabled:     getEnvBool("VIBRATION_ENABLED", true),
			SoundEnabled:         getEnvBool("SOUND_ENABLED", true),
			RepeatCount:          getEnvInt("REMINDER_REPEAT_COUNT", 3),
			StockAlertLeadDays:   getEnvInt("STOCK_ALERT_LEAD_DAYS", 7),
		},
		Connectivity: ConnectivityConfig{
			ProbeAddress:   getEnvOrDefault("CONNECTIVITY_PROBE", "firestore.googleapis.com:443"),
			TimeoutSeconds: getEnvInt("CONNECTIVITY_TIMEOUT_SECONDS", 3),
		},
		Logger: LoggerConfig{
			Level:      parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info")),
			OutputPath: getEnvOrDefault("LOG_OUTPUT", "logs/app.log"),
			Format:     getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if cfg.Storage.Backend != BackendFirestore && cfg.Storage.Backend != BackendPostgres {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return cfg, nil
}
