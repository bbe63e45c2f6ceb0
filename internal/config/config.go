package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration for the server and the
// replicating client.
type Config struct {
	Server      ServerConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Auth        AuthConfig
	Replication ReplicationConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// AuthConfig is the acknowledged-but-optional auth hook: when TokenSecret
// is empty the sync API is open.
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
}

// ReplicationConfig drives the client side: where feed/set and the change
// channel are reached, batch sizing and the polling fallback.
type ReplicationConfig struct {
	Endpoint          string
	ChangedURL        string
	BatchSize         int
	LiveInterval      time.Duration
	Initial           bool
	ReconnectAttempts int
	InactivityTimeout time.Duration
	ConnectTimeout    time.Duration
	DataDir           string
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "10102")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_DATABASE", "herosync")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("RATE_LIMIT_RPS", 50.0)
	viper.SetDefault("RATE_LIMIT_BURST", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("AUTH_TOKEN_TTL", 60)
	viper.SetDefault("SYNC_BATCH_SIZE", 50)
	viper.SetDefault("SYNC_LIVE_INTERVAL_SECONDS", 600)
	viper.SetDefault("SYNC_RECONNECT_ATTEMPTS", 10000)
	viper.SetDefault("SYNC_INACTIVITY_TIMEOUT_SECONDS", 60)
	viper.SetDefault("SYNC_CONNECT_TIMEOUT_SECONDS", 60)
	viper.SetDefault("SYNC_ENDPOINT", "http://localhost:10102")
	viper.SetDefault("SYNC_DATA_DIR", "./herosync-data")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       0,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Auth: AuthConfig{
			TokenSecret: viper.GetString("AUTH_TOKEN_SECRET"),
			TokenTTL:    time.Duration(viper.GetInt("AUTH_TOKEN_TTL")) * time.Minute,
		},
		Replication: ReplicationConfig{
			Endpoint:          viper.GetString("SYNC_ENDPOINT"),
			ChangedURL:        viper.GetString("SYNC_CHANGED_URL"),
			BatchSize:         viper.GetInt("SYNC_BATCH_SIZE"),
			LiveInterval:      time.Duration(viper.GetInt("SYNC_LIVE_INTERVAL_SECONDS")) * time.Second,
			Initial:           viper.GetBool("SYNC_INITIAL"),
			ReconnectAttempts: viper.GetInt("SYNC_RECONNECT_ATTEMPTS"),
			InactivityTimeout: time.Duration(viper.GetInt("SYNC_INACTIVITY_TIMEOUT_SECONDS")) * time.Second,
			ConnectTimeout:    time.Duration(viper.GetInt("SYNC_CONNECT_TIMEOUT_SECONDS")) * time.Second,
			DataDir:           viper.GetString("SYNC_DATA_DIR"),
		},
	}

	return cfg, nil
}
