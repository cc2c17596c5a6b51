package models

import "time"

// BuildRequest is one unit of work for one builder under one buildset.
// Rows are created in the same transaction as their parent buildset;
// completion fields are written by the build-execution path, claim fields
// by the master that takes the request.
type BuildRequest struct {
	ID                int64 `gorm:"primaryKey;autoIncrement"`
	BuildsetID        int64 `gorm:"not null;index"`
	BuilderID         int64 `gorm:"not null;index"`
	Priority          int   `gorm:"default:0"`
	WaitedFor         bool  `gorm:"default:false"`
	SubmittedAt       time.Time
	Complete          bool `gorm:"default:false;index"`
	CompleteAt        *time.Time
	Results           int  `gorm:"default:-1"`
	Claimed           bool `gorm:"default:false;index"`
	ClaimedAt         *time.Time
	ClaimedByMasterID *int64
	Properties        *string `gorm:"type:json"`

	Buildset Buildset `gorm:"foreignKey:BuildsetID"`
	Builder  Builder  `gorm:"foreignKey:BuilderID"`
}
