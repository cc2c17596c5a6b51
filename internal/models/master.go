package models

import "time"

// Master is a registered orchestration master, referenced by the claim
// fields of BuildRequest.
type Master struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"size:128;not null;uniqueIndex"`
	Active     bool   `gorm:"default:false;index"`
	LastActive time.Time
}
