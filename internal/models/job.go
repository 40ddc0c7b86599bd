package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the generation job state machine:
//
//	IN_QUEUE -> IN_PROGRESS -> COMPLETED
//	IN_QUEUE | IN_PROGRESS  -> FAILED | CANCELLED
//
// Transitions only ever move forward; duplicate deliveries of a status the
// job already reached are no-ops.
type JobStatus string

const (
	JobStatusInQueue    JobStatus = "IN_QUEUE"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

var jobStatusRank = map[JobStatus]int{
	JobStatusInQueue:    1,
	JobStatusInProgress: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
	JobStatusCancelled:  3,
}

// Rank orders statuses along the state machine; unknown statuses rank 0 so
// they never displace a known one.
func (s JobStatus) Rank() int {
	return jobStatusRank[s]
}

// IsTerminal reports whether the status is COMPLETED, FAILED or CANCELLED.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// GenerationJob tracks one asynchronous compute submission. The primary key
// is the provider's task id so webhook callbacks address jobs directly.
type GenerationJob struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Status         JobStatus `gorm:"index;not null;default:IN_QUEUE" json:"status"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	NumOutputs     int       `gorm:"not null;default:1" json:"num_outputs"`
	CostCharged    int64     `gorm:"not null" json:"cost_charged"`
	RequestRef     string    `gorm:"index" json:"request_ref"`
	FailureReason  string    `json:"failure_reason,omitzero"`
	StatusTimes    string    `json:"-"` // JSON map of status -> RFC3339 timestamp
	AssetIDs       string    `json:"-"` // JSON array of attached asset ids
	CreatedAt      time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// StatusTimestamps decodes the per-status transition times. Replayed webhook
// deliveries are detectable because their status already has an entry.
func (j *GenerationJob) StatusTimestamps() map[JobStatus]time.Time {
	out := make(map[JobStatus]time.Time)
	if j.StatusTimes == "" {
		return out
	}
	var raw map[JobStatus]time.Time
	if err := json.Unmarshal([]byte(j.StatusTimes), &raw); err != nil {
		return out
	}
	return raw
}

// MarkStatus records the transition time for status and returns the updated
// encoding. Existing entries are kept so the first observation wins.
func (j *GenerationJob) MarkStatus(status JobStatus, at time.Time) {
	times := j.StatusTimestamps()
	if _, seen := times[status]; !seen {
		times[status] = at.UTC()
	}
	encoded, err := json.Marshal(times)
	if err != nil {
		return
	}
	j.StatusTimes = string(encoded)
}

// AttachedAssetIDs decodes the asset ids linked to this job.
func (j *GenerationJob) AttachedAssetIDs() []string {
	if j.AssetIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(j.AssetIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetAttachedAssetIDs encodes the asset ids linked to this job.
func (j *GenerationJob) SetAttachedAssetIDs(ids []string) {
	encoded, err := json.Marshal(ids)
	if err != nil {
		return
	}
	j.AssetIDs = string(encoded)
}

// JobSpec is the billable-action descriptor derived from a generation
// request. It is ephemeral: priced, submitted, never persisted as-is.
type JobSpec struct {
	UserID        string
	Model         string
	Prompt        string
	NegativePrompt string
	Width         int
	Height        int
	NumOutputs    int
	ReferenceURLs []string
	Upscale       bool
	WithCharacter bool
	LoraTraining  bool
}
