package db

import (
	"fmt"
	"time"

	"github.com/zulandar/buildyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.SourceStamp{},
		&models.Builder{},
		&models.Master{},
		&models.Buildset{},
		&models.BuildsetSourceStamp{},
		&models.BuildRequest{},
	}
}

// AutoMigrate creates or updates all buildyard tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedBuilders upserts Builder rows from configuration. Builders removed
// from the config are kept: old build requests still reference them.
func SeedBuilders(db *gorm.DB, names []string) error {
	for _, name := range names {
		builder := models.Builder{Name: name}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&builder)
		if result.Error != nil {
			return fmt.Errorf("db: seed builder %q: %w", name, result.Error)
		}
	}
	return nil
}

// RegisterMaster upserts this master's registry row and marks it active.
func RegisterMaster(db *gorm.DB, name string) (*models.Master, error) {
	master := models.Master{
		Name:       name,
		Active:     true,
		LastActive: time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "last_active"}),
	}).Create(&master)
	if result.Error != nil {
		return nil, fmt.Errorf("db: register master %q: %w", name, result.Error)
	}
	if master.ID == 0 {
		// OnConflict DoUpdates does not backfill the ID on some drivers.
		if err := db.Where("name = ?", name).First(&master).Error; err != nil {
			return nil, fmt.Errorf("db: reload master %q: %w", name, err)
		}
	}
	return &master, nil
}
