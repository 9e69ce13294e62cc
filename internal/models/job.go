package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job statuses. A pending job whose run_at has passed is eligible for claiming
// by any worker; claiming flips it to running atomically.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job names understood by the worker.
const (
	JobPublishPost    = "publish-post"
	JobCheckScheduled = "check-scheduled"
)

type Job struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null;size:100;index" json:"name"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	RunAt       time.Time      `gorm:"not null;index" json:"run_at"`
	Status      string         `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Attempts    int            `gorm:"default:0" json:"attempts"`
	MaxAttempts int            `gorm:"default:3" json:"max_attempts"`
	LastError   string         `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
