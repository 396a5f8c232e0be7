package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// TaskRepository is the pipeline's view of task rows. The Claim method is
// the only coordination point between workers: it succeeds for exactly one
// caller per task.
type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*model.Task, error)

	// Claim transitions queued → running and returns false if the task is
	// in any other state. A redelivered job whose task already moved past
	// queued must be discarded by the caller.
	Claim(ctx context.Context, id string) (bool, error)

	// UpdateProgress writes progress and ETA for a running task and
	// refreshes its heartbeat. Progress never decreases.
	UpdateProgress(ctx context.Context, id string, progress, etaSeconds int) error

	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, code, message string) error

	// FailStalled marks running tasks whose heartbeat is older than cutoff
	// as errored and returns how many were swept.
	FailStalled(ctx context.Context, cutoff time.Time) (int64, error)
}

type UploadRepository interface {
	Create(ctx context.Context, upload *model.Upload) error
	Get(ctx context.Context, id string) (*model.Upload, error)
}

// PhotoRepository persists output images. CreateBatch writes all records in
// one statement; rows colliding with an existing unique key are skipped.
type PhotoRepository interface {
	CreateBatch(ctx context.Context, photos []*model.Photo) (int64, error)
	ListByTask(ctx context.Context, taskID string) ([]*model.Photo, error)
}

// QuotaRepository tracks per-user, per-UTC-day free-tier usage.
type QuotaRepository interface {
	Increment(ctx context.Context, userID, day string, delta int) error
	Get(ctx context.Context, userID, day string) (*model.DailyQuota, error)
}
