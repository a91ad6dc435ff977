package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the map engine service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Document store polling
	PollInterval time.Duration

	// How long to keep retrying the initial database ping. The database may
	// still be coming up when the service starts.
	DBPingTimeout time.Duration

	// RabbitMQ change notifications (disabled when URL is empty)
	AMQPURL      string
	AMQPExchange string

	// Server configuration
	Port string

	// Clustering parameters
	ClusterRadius  float64
	ClusterExtent  int
	ClusterMaxZoom int
	MinClusterSize int

	// Map view behavior
	MinFocusZoom     float64
	DefaultCenterLat float64
	DefaultCenterLng float64
	DefaultZoom      float64

	// Device position stream
	PositionTimeout time.Duration

	// Index snapshot persisted across restarts (disabled when path is empty)
	SnapshotPath string

	// Map style handed to clients at bootstrap
	StyleURL    string
	StyleAPIKey string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "civicmap"),

		// Poll the issues collection once per second by default
		PollInterval: getDurationEnv("POLL_INTERVAL", time.Second),

		DBPingTimeout: getDurationEnv("DB_PING_TIMEOUT", 60*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "issues.changes"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Clustering defaults match the usual supercluster parameters,
		// except the minimum group size: two issues close together
		// already render as one aggregate marker.
		ClusterRadius:  getFloatEnv("CLUSTER_RADIUS", 40),
		ClusterExtent:  getIntEnv("CLUSTER_EXTENT", 512),
		ClusterMaxZoom: getIntEnv("CLUSTER_MAX_ZOOM", 16),
		MinClusterSize: getIntEnv("MIN_CLUSTER_SIZE", 2),

		MinFocusZoom:     getFloatEnv("MIN_FOCUS_ZOOM", 14),
		DefaultCenterLat: getFloatEnv("DEFAULT_CENTER_LAT", 0),
		DefaultCenterLng: getFloatEnv("DEFAULT_CENTER_LNG", 0),
		DefaultZoom:      getFloatEnv("DEFAULT_ZOOM", 2),

		PositionTimeout: getDurationEnv("POSITION_TIMEOUT", 10*time.Second),

		SnapshotPath: getEnv("SNAPSHOT_PATH", ""),

		StyleURL:    getEnv("STYLE_URL", "https://tiles.example.com/styles/streets/style.json"),
		StyleAPIKey: getEnv("STYLE_API_KEY", ""),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// DSN builds the MySQL connection string for the document store.
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
