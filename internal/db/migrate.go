package db

import (
	"fmt"

	"github.com/zulandar/botyard/internal/config"
	"github.com/zulandar/botyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model managed by botyard.
func AllModels() []interface{} {
	return []interface{}{
		&models.Bot{},
		&models.Resource{},
		&models.ResourceDocument{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Open connects with cfg and migrates the schema.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormDB, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}
