package models

import "time"

// GenerationEvent is one row in the analytics store per job lifecycle
// transition. Written by a background worker; loss is acceptable.
type GenerationEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"index;size:255" json:"user_id"`
	JobID      string    `gorm:"index;size:255" json:"job_id"`
	Model      string    `gorm:"size:255" json:"model"`
	Status     string    `gorm:"size:32" json:"status"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	NumOutputs int       `json:"num_outputs"`
	Cost       int64     `json:"cost"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// LedgerEvent mirrors ledger activity into the analytics store for revenue
// and consumption reporting.
type LedgerEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"index;size:255" json:"user_id"`
	Type        string    `gorm:"size:32" json:"type"`
	Kind        string    `gorm:"size:32" json:"kind"`
	SourceRef   string    `gorm:"size:255" json:"source_ref"`
	Tokens      int64     `json:"tokens"`
	LoraCredits int64     `json:"lora_credits"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
