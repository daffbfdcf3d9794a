package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Database                  DatabaseConfig
	Cache                     CacheConfig
	Storage                   StorageConfig
	NATS                      NATSConfig
	Jobs                      JobsConfig
	Visits                    VisitConfig
	AppURL                    string
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string // mysql, postgres or sqlite
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	SSLMode  string
	DSN      string
	// EnablePostGIS creates the postgis extension on migrate and switches
	// nearby-company search to ST_DWithin.
	EnablePostGIS   bool
	ConnectAttempts int
}

// CacheConfig selects the cache backend
type CacheConfig struct {
	Driver     string // redis, memory or none
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	TTLSeconds int
}

// StorageConfig selects the object storage backend for photos and reports
type StorageConfig struct {
	Driver          string // local or oss
	LocalDir        string
	PublicBaseURL   string
	OSSEndpoint     string
	OSSAccessKey    string
	OSSSecretKey    string
	OSSBucket       string
	OSSSignedURLTTL int // seconds; 0 means public URLs
	MaxUploadMB     int
	PhotoMaxWidth   int
	PhotoMaxHeight  int
}

// NATSConfig holds the event publisher settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// JobsConfig holds cron schedules for background jobs
type JobsConfig struct {
	Enabled              bool
	DailyReportSchedule  string
	TokenCleanupSchedule string
}

// VisitConfig holds visit lifecycle tunables
type VisitConfig struct {
	GeofenceRadiusMeters float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:        strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		Host:          getEnv("DB_HOST", "localhost"),
		Port:          getEnv("DB_PORT", "3306"),
		Username:      getEnv("DB_USERNAME", "root"),
		Password:      getEnv("DB_PASSWORD", ""),
		Name:          getEnv("DB_NAME", "fieldsales"),
		SSLMode:       getEnv("DB_SSLMODE", "disable"),
		EnablePostGIS: getEnvBool("DB_ENABLE_POSTGIS", false),
	}

	// DB_DSN wins over the individual parts when it is set.
	dsn, err := buildDSN(dbConfig)
	if err != nil {
		return nil, err
	}
	dbConfig.DSN = getEnv("DB_DSN", dsn)

	attempts, err := getEnvInt("DB_CONNECT_ATTEMPTS", 10)
	if err != nil {
		return nil, err
	}
	dbConfig.ConnectAttempts = attempts

	jwtExpMinutes, err := getEnvInt("JWT_EXPIRATION_MINUTES", 15)
	if err != nil {
		return nil, err
	}

	jwtRefreshExpHours, err := getEnvInt("JWT_REFRESH_EXPIRATION_HOURS", 168) // 7 days
	if err != nil {
		return nil, err
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getEnvInt("CACHE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	signedTTL, err := getEnvInt("OSS_SIGNED_URL_TTL_SECONDS", 0)
	if err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt("UPLOAD_MAX_MB", 10)
	if err != nil {
		return nil, err
	}
	photoW, err := getEnvInt("PHOTO_MAX_WIDTH", 1600)
	if err != nil {
		return nil, err
	}
	photoH, err := getEnvInt("PHOTO_MAX_HEIGHT", 1600)
	if err != nil {
		return nil, err
	}

	geofence, err := strconv.ParseFloat(getEnv("GEOFENCE_RADIUS_METERS", "200"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEOFENCE_RADIUS_METERS: %w", err)
	}

	appURL := getEnv("APP_URL", "http://localhost:3001")

	return &Config{
		Port:                      getEnv("PORT", "3001"),
		Origin:                    getEnv("ORIGIN", "http://localhost:4200"),
		Environment:               getEnv("APP_ENV", "development"),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		Database:                  dbConfig,
		Cache: CacheConfig{
			Driver:     strings.ToLower(getEnv("CACHE_DRIVER", "memory")),
			RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPass:  getEnv("REDIS_PASSWORD", ""),
			RedisDB:    redisDB,
			TTLSeconds: cacheTTL,
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
			LocalDir:        getEnv("STORAGE_LOCAL_DIR", "./uploads"),
			PublicBaseURL:   getEnv("STORAGE_PUBLIC_BASE_URL", appURL+"/uploads"),
			OSSEndpoint:     getEnv("ALI_OSS_ENDPOINT", ""),
			OSSAccessKey:    getEnv("ALI_OSS_ACCESS_KEY", ""),
			OSSSecretKey:    getEnv("ALI_OSS_SECRET_KEY", ""),
			OSSBucket:       getEnv("ALI_OSS_BUCKET", ""),
			OSSSignedURLTTL: signedTTL,
			MaxUploadMB:     maxUpload,
			PhotoMaxWidth:   photoW,
			PhotoMaxHeight:  photoH,
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "fieldsales"),
		},
		Jobs: JobsConfig{
			Enabled:              getEnvBool("JOBS_ENABLED", true),
			DailyReportSchedule:  getEnv("JOB_DAILY_REPORT_CRON", "0 23 * * *"),
			TokenCleanupSchedule: getEnv("JOB_TOKEN_CLEANUP_CRON", "30 2 * * *"),
		},
		Visits: VisitConfig{
			GeofenceRadiusMeters: geofence,
		},
		AppURL: appURL,
	}, nil
}

// IsDevelopment reports whether the app runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func buildDSN(db DatabaseConfig) (string, error) {
	switch db.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			db.Username, db.Password, db.Host, db.Port, db.Name), nil
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			db.Host, db.Port, db.Username, db.Password, db.Name, db.SSLMode), nil
	case "sqlite":
		// foreign keys are off by default in sqlite and the pragma is per connection
		return db.Name + ".db?_foreign_keys=on&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", db.Driver)
	}
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
