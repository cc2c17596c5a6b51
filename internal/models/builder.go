package models

// Builder is a named target configuration that can execute build requests.
type Builder struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:128;not null;uniqueIndex"`
	Description string `gorm:"type:text"`
}
