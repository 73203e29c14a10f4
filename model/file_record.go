package model

import "time"

// FileRecord is the metadata for one stored blob. OwnerID and StorageKey
// are fixed at creation; only Name (and UpdatedAt) ever change.
type FileRecord struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	OwnerID string `gorm:"column:owner_id;size:128;not null;index:idx_owner_created,priority:1" json:"owner_id"`

	Name string `gorm:"column:name;size:255;not null" json:"name"`

	StorageKey  string `gorm:"column:storage_key;size:512;not null;uniqueIndex" json:"storage_key"`
	ContentType string `gorm:"column:content_type;size:255;not null;default:''" json:"content_type"`
	Size        int64  `gorm:"column:size;not null;default:0" json:"size"`

	CreatedAt time.Time `gorm:"index:idx_owner_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (FileRecord) TableName() string {
	return "file_record"
}
