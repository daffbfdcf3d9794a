package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// BaseModel contains common columns for all tables
type BaseModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver        string
	DSN           string
	EnablePostGIS bool
	Attempts      int
	RetryDelay    time.Duration
	LogSQL        bool
}

// Open returns the gorm dialector for the configured driver.
func Open(config DatabaseConfig) (gorm.Dialector, error) {
	switch config.Driver {
	case "mysql", "":
		return mysql.Open(config.DSN), nil
	case "postgres":
		return postgres.Open(config.DSN), nil
	case "sqlite":
		return sqlite.Open(config.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}

// InitDB initializes database connection, retrying while the server comes up,
// and migrates the schema.
func InitDB(config DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	db, err := Connect(config, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, config.EnablePostGIS); err != nil {
		return nil, err
	}
	return db, nil
}

// Connect opens the database without migrating.
func Connect(config DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	dialector, err := Open(config)
	if err != nil {
		return nil, err
	}

	attempts := config.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := config.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}

	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	if config.LogSQL {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(dialector, gormCfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Str("driver", config.Driver).Msg("database connection failed")
		if i < attempts {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
}

// Migrate auto-migrates all models, creates the indexes gorm tags cannot
// express and seeds the default roles.
func Migrate(db *gorm.DB, enablePostGIS bool) error {
	if enablePostGIS && db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
			return fmt.Errorf("creating postgis extension: %w", err)
		}
	}

	err := db.AutoMigrate(
		&Role{},
		&User{},
		&RefreshToken{},
		&Company{},
		&Contact{},
		&Visit{},
		&VisitPhoto{},
		&FollowUp{},
		&Payment{},
		&Call{},
		&DailyReport{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := createActiveCheckInIndex(db); err != nil {
		return err
	}

	return SeedDefaultRoles(db)
}

// createActiveCheckInIndex enforces at most one CHECKED_IN visit per user.
// MySQL has no partial indexes; there the check-in transaction's row lock
// on the user is the only guard.
func createActiveCheckInIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "postgres", "sqlite":
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_one_active_checkin ON visits (user_id) WHERE status = '%s'",
			VisitStatusCheckedIn,
		)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("creating active check-in index: %w", err)
		}
	}
	return nil
}
