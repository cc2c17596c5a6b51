package models

import "time"

// Buildset is one logical trigger event: a scheduler decision, a forced
// build, or a rebuild. It fans out into one BuildRequest per target builder.
type Buildset struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	ExternalIDString   string `gorm:"size:256"`
	Reason             string `gorm:"type:text"`
	Scheduler          string `gorm:"size:128"`
	SubmittedAt        time.Time
	Complete           bool `gorm:"default:false;index"`
	CompleteAt         *time.Time
	Results            *int
	Priority           int `gorm:"default:0"`
	RebuiltBuildID     *int64
	ParentBuildID      *int64
	ParentRelationship string  `gorm:"size:64"`
	Properties         *string `gorm:"type:json"`

	SourceStamps  []SourceStamp  `gorm:"many2many:buildset_source_stamps;"`
	BuildRequests []BuildRequest `gorm:"foreignKey:BuildsetID"`
}

// BuildsetSourceStamp links a buildset to the sourcestamps it was
// triggered for, one per codebase in practice.
type BuildsetSourceStamp struct {
	BuildsetID    int64 `gorm:"primaryKey"`
	SourceStampID int64 `gorm:"primaryKey"`
}

// TableName pins the join table name used by the Buildset many2many tag.
func (BuildsetSourceStamp) TableName() string {
	return "buildset_source_stamps"
}
