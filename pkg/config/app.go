package config

import "time"

// AppConfig holds runtime configuration for the timelogger service.
type AppConfig struct {
	Environment        string
	LogLevel           string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	APISecret          string
	JWTSecret          string
	TokenTTL           time.Duration
	MaxBufferSize      int
	BatchSize          int
	SlowWriteThreshold time.Duration
	CaptureInterval    time.Duration
	FlushInterval      time.Duration
	ReconnectInterval  time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs an AppConfig from environment variables.
func Load() AppConfig {
	return AppConfig{
		Environment:        GetString("APP_ENV", "development"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		Addr:               GetString("API_ADDR", ":8080"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://timelogger:timelogger@db:5432/timelogger?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		APISecret:          GetString("API_SECRET", ""),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenTTL:           GetDuration("TOKEN_TTL", time.Hour),
		MaxBufferSize:      GetInt("MAX_BUFFER_SIZE", 10000),
		BatchSize:          GetInt("BATCH_SIZE", 100),
		SlowWriteThreshold: GetDuration("SLOW_WRITE_THRESHOLD", time.Second),
		CaptureInterval:    GetDuration("CAPTURE_INTERVAL", time.Second),
		FlushInterval:      GetDuration("FLUSH_INTERVAL", time.Second),
		ReconnectInterval:  GetDuration("RECONNECT_INTERVAL", 5*time.Second),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
