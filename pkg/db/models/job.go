package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Job is a durable unit of asynchronous work.
type Job struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Queue            enums.QueueName   `gorm:"column:queue;type:text;not null"`
	Type             enums.JobType     `gorm:"column:type;type:text;not null"`
	Payload          json.RawMessage   `gorm:"column:payload;type:jsonb;not null"`
	Status           enums.JobStatus   `gorm:"column:status;type:text;not null;default:'WAITING'"`
	Attempts         int               `gorm:"column:attempts;not null;default:0"`
	MaxAttempts      int               `gorm:"column:max_attempts;not null"`
	BackoffType      enums.BackoffType `gorm:"column:backoff_type;type:text;not null"`
	BackoffDelayMS   int64             `gorm:"column:backoff_delay_ms;not null;default:0"`
	RemoveOnComplete bool              `gorm:"column:remove_on_complete;not null;default:false"`
	RunAt            time.Time         `gorm:"column:run_at;not null"`
	LastError        *string           `gorm:"column:last_error"`
	LockedBy         *string           `gorm:"column:locked_by"`
	LockedAt         *time.Time        `gorm:"column:locked_at"`
	FinishedAt       *time.Time        `gorm:"column:finished_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
