package models

import "time"

const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskRetry      = "retry"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// QueueTask is a row of the SQL-backed intent queue.
type QueueTask struct {
	ID          int64      `json:"id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	LockedUntil *time.Time `json:"locked_until"`
}
