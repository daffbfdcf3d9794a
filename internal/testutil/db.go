// Package testutil sets up databases and fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/models"
)

// NewDB returns a migrated SQLite database that lives in t.TempDir().
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := models.Connect(models.DatabaseConfig{Driver: "sqlite", DSN: dsn, Attempts: 1}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := models.Migrate(db, false); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Role returns a seeded role by name.
func Role(t *testing.T, db *gorm.DB, name string) *models.Role {
	t.Helper()
	var role models.Role
	if err := db.Where("name = ?", name).First(&role).Error; err != nil {
		t.Fatalf("load role %s: %v", name, err)
	}
	return &role
}

// CreateUser inserts an active user with the given role and password "password123".
func CreateUser(t *testing.T, db *gorm.DB, email, roleName string) *models.User {
	t.Helper()
	role := Role(t, db, roleName)
	user := &models.User{
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := user.SetPassword("password123"); err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	user.Role = *role
	return user
}

// CreateCompany inserts a company. lat and lng may be nil.
func CreateCompany(t *testing.T, db *gorm.DB, name string, lat, lng *float64) *models.Company {
	t.Helper()
	company := &models.Company{Name: name, Latitude: lat, Longitude: lng, Area: "north", Region: "west"}
	if err := db.Create(company).Error; err != nil {
		t.Fatalf("create company %s: %v", name, err)
	}
	return company
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
