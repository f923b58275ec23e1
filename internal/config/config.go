package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// ServerConfig holds the coordination server settings.
type ServerConfig struct {
	Addr               string
	MongoURI           string
	MongoDB            string
	JWTSecret          string
	JWTExpiry          time.Duration
	RateLimitPerMinute int
}

// RiderConfig holds the on-device rider agent settings.
type RiderConfig struct {
	APIBaseURL     string
	APIToken       string
	BrokerURL      string
	UserID         string
	GroupID        string
	Admin          bool
	OSRMBaseURL    string
	DataDir        string
	SampleInterval time.Duration
}

// LoadServer reads server configuration from the environment. A .env file in
// the working directory is honored when present.
func LoadServer() ServerConfig {
	loadDotenv()
	return ServerConfig{
		Addr:               getEnv("SERVER_ADDR", ":8080"),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDB:            getEnv("MONGO_DB", "wayfarian"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTExpiry:          getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// LoadRider reads rider agent configuration from the environment.
func LoadRider() RiderConfig {
	loadDotenv()
	return RiderConfig{
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080"),
		APIToken:       getEnv("API_TOKEN", ""),
		BrokerURL:      getEnv("BROKER_URL", "tcp://localhost:1883"),
		UserID:         getEnv("RIDER_USER_ID", ""),
		GroupID:        getEnv("RIDER_GROUP_ID", ""),
		Admin:          getEnvBool("RIDER_ADMIN", false),
		OSRMBaseURL:    getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"),
		DataDir:        getEnv("RIDER_DATA_DIR", "./data"),
		SampleInterval: getEnvDuration("SAMPLE_INTERVAL", 5*time.Second),
	}
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("No .env file loaded")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid boolean in environment, using default")
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithFields(log.Fields{"key": key, "value": v}).Warn("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
