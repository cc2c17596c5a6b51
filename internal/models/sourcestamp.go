package models

import "time"

// SourceStamp is an immutable description of a code revision. Rows are
// created before any buildset references them and never mutated after.
type SourceStamp struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	Branch     string  `gorm:"size:256"`
	Codebase   string  `gorm:"size:256"`
	Project    string  `gorm:"size:256"`
	Repository string  `gorm:"size:512"`
	Revision   string  `gorm:"size:256"`
	Patch      *string `gorm:"type:json"`
	CreatedAt  time.Time
}
