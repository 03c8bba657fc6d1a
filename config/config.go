package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the report intake service.
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Detection API configuration
	DetectorEndpoint string
	DetectorAPIKey   string
	DetectorModelURL string
	DetectorModel    string
	DetectorTimeout  time.Duration
	VerdictCacheTTL  time.Duration

	// Cloudinary configuration
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
	UploadTimeout       time.Duration

	// Auth
	JWTSecret string

	// RabbitMQ (optional; publishing is skipped when the URL is empty)
	AMQPURL             string
	AMQPExchange        string
	AMQPReportRoutingKey string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "reportintake"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Detection defaults
		DetectorEndpoint: getEnv("DETECTOR_ENDPOINT", "https://predict.ultralytics.com"),
		DetectorAPIKey:   getEnv("DETECTOR_API_KEY", ""),
		DetectorModelURL: getEnv("DETECTOR_MODEL_URL", "https://hub.ultralytics.com/models/waste-detector"),
		DetectorModel:    getEnv("DETECTOR_MODEL_VERSION", "waste-detector-v1"),
		DetectorTimeout:  getDurationEnv("DETECTOR_TIMEOUT", 30*time.Second),
		VerdictCacheTTL:  getDurationEnv("VERDICT_CACHE_TTL", 5*time.Minute),

		// Cloudinary defaults
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "reports"),
		UploadTimeout:       getDurationEnv("UPLOAD_TIMEOUT", 15*time.Second),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", ""),

		// RabbitMQ
		AMQPURL:              getEnv("AMQP_URL", ""),
		AMQPExchange:         getEnv("AMQP_EXCHANGE", "reports"),
		AMQPReportRoutingKey: getEnv("AMQP_REPORT_ROUTING_KEY", "report.accepted"),
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a
// default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default
// value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
