package model

import "time"

// Task is the unit of work a user sees: one generation request tracked
// through queued → running → done|error. Mutated only by the worker that
// claimed it.
type Task struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	UserID         string     `json:"userId" gorm:"size:36;index;uniqueIndex:idx_tasks_user_idem"`
	UploadID       string     `json:"uploadId" gorm:"size:36"`
	Plan           Plan       `json:"plan" gorm:"size:16"`
	Gender         Gender     `json:"gender" gorm:"size:16"`
	IdempotencyKey string     `json:"-" gorm:"size:64;uniqueIndex:idx_tasks_user_idem"`
	Status         TaskStatus `json:"status" gorm:"size:16;index"`
	Progress       int        `json:"progress"`
	ETASeconds     int        `json:"etaSeconds"`
	ErrorCode      string     `json:"errorCode,omitempty" gorm:"size:32"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	// HeartbeatAt is refreshed on every progress write; the sweeper uses it
	// to detect tasks orphaned by a worker crash.
	HeartbeatAt *time.Time `json:"-"`
}

// TaskStartRequest is the body of POST /api/tasks
type TaskStartRequest struct {
	UploadID       string `json:"uploadId" validate:"required,uuid"`
	Plan           Plan   `json:"plan" validate:"required,oneof=free start pro"`
	Gender         Gender `json:"gender" validate:"required,oneof=male female unisex"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,min=8,max=64"`
}

// TaskStartResponse is returned when a task is accepted
type TaskStartResponse struct {
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// TaskStatusResponse is the read model the web tier polls
type TaskStatusResponse struct {
	ID           string     `json:"id"`
	Status       TaskStatus `json:"status"`
	Progress     int        `json:"progress"`
	ETASeconds   *int       `json:"etaSeconds"`
	ErrorCode    string     `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// StatusView builds the polled read model from a task row. ETA is only
// meaningful while the task is running.
func (t *Task) StatusView() *TaskStatusResponse {
	resp := &TaskStatusResponse{
		ID:       t.ID,
		Status:   t.Status,
		Progress: t.Progress,
	}
	if t.Status == TaskStatusRunning {
		eta := t.ETASeconds
		resp.ETASeconds = &eta
	}
	if t.Status == TaskStatusError {
		resp.ErrorCode = t.ErrorCode
		resp.ErrorMessage = t.ErrorMessage
	}
	return resp
}
