package models

import "time"

// GeneratedAsset is one stored output image of a completed job. Created only
// on a job's first transition into COMPLETED.
type GeneratedAsset struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"index;not null" json:"user_id"`
	JobID       string    `gorm:"index;not null" json:"job_id"`
	StorageKey  string    `gorm:"not null" json:"-"`
	PublicURL   string    `gorm:"not null" json:"url"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Placeholder string    `json:"placeholder,omitzero"`
	IsPublic    bool      `gorm:"not null;default:false" json:"is_public"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}
