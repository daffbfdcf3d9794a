package config

import (
	"os"
	"strings"
	"testing"
)

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "DB_DRIVER", "DB_DSN", "DB_HOST", "DB_PORT", "DB_USERNAME", "DB_PASSWORD", "DB_NAME",
		"PORT", "APP_URL", "STORAGE_PUBLIC_BASE_URL", "JWT_EXPIRATION_MINUTES", "JWT_REFRESH_EXPIRATION_HOURS",
		"GEOFENCE_RADIUS_METERS", "UPLOAD_MAX_MB", "JOBS_ENABLED", "CACHE_DRIVER")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "3001" || cfg.JWTExpirationMinutes != 15 || cfg.JWTRefreshExpirationHours != 168 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Database.Driver != "mysql" || !strings.Contains(cfg.Database.DSN, "@tcp(localhost:3306)/fieldsales") {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
	if cfg.Storage.PublicBaseURL != "http://localhost:3001/uploads" || cfg.Storage.MaxUploadMB != 10 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Visits.GeofenceRadiusMeters != 200 || !cfg.Jobs.Enabled || cfg.Cache.Driver != "memory" {
		t.Errorf("visits = %+v, jobs = %+v, cache = %+v", cfg.Visits, cfg.Jobs, cfg.Cache)
	}
}

func TestLoadConfigDrivers(t *testing.T) {
	unsetEnv(t, "DB_DSN")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USERNAME", "sales")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "crm")

	t.Setenv("DB_DRIVER", "Postgres")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "postgres" || !strings.Contains(cfg.Database.DSN, "host=db port=5432 user=sales") {
		t.Errorf("postgres DSN = %q", cfg.Database.DSN)
	}

	t.Setenv("DB_DRIVER", "sqlite")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !strings.HasPrefix(cfg.Database.DSN, "crm.db?") || !strings.Contains(cfg.Database.DSN, "_foreign_keys=on") {
		t.Errorf("sqlite DSN = %q", cfg.Database.DSN)
	}

	t.Setenv("DB_DSN", "file::memory:")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.DSN != "file::memory:" {
		t.Errorf("DB_DSN override ignored: %q", cfg.Database.DSN)
	}

	t.Setenv("DB_DRIVER", "oracle")
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig accepted an unsupported driver")
	}
}

func TestLoadConfigInvalidNumbers(t *testing.T) {
	unsetEnv(t, "DB_DRIVER")
	cases := map[string]string{
		"JWT_EXPIRATION_MINUTES": "soon",
		"UPLOAD_MAX_MB":          "lots",
		"GEOFENCE_RADIUS_METERS": "near",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("LoadConfig() error = %v, want one naming %s", err, key)
			}
		})
	}
}

func TestGetEnvBoolFallsBack(t *testing.T) {
	t.Setenv("JOBS_ENABLED", "maybe")
	if !getEnvBool("JOBS_ENABLED", true) {
		t.Error("unparseable bool should fall back to the default")
	}
	t.Setenv("JOBS_ENABLED", "false")
	if getEnvBool("JOBS_ENABLED", true) {
		t.Error("JOBS_ENABLED=false not honoured")
	}
}
