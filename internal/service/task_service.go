package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
	"github.com/gaole-2025/rizzify-sub000/internal/repository"
)

// ErrUploadNotFound is returned when the referenced upload does not exist
// or belongs to another user.
var ErrUploadNotFound = errors.New("upload not found")

// ErrTaskNotFound is returned when a status lookup misses or the task
// belongs to another user.
var ErrTaskNotFound = errors.New("task not found")

// Enqueuer hands accepted tasks to the durable queue.
type Enqueuer interface {
	EnqueueGenerate(ctx context.Context, payload *model.GenerateJobPayload, delay time.Duration) (string, error)
}

// TaskService owns the web-facing task lifecycle: accept, dedupe, enqueue,
// and expose status. All pipeline work happens in the worker.
type TaskService struct {
	tasks   repository.TaskRepository
	uploads repository.UploadRepository
	photos  repository.PhotoRepository
	quotas  repository.QuotaRepository
	queue   Enqueuer
	log     *slog.Logger
}

func NewTaskService(
	tasks repository.TaskRepository,
	uploads repository.UploadRepository,
	photos repository.PhotoRepository,
	quotas repository.QuotaRepository,
	queue Enqueuer,
	log *slog.Logger,
) *TaskService {
	return &TaskService{
		tasks:   tasks,
		uploads: uploads,
		photos:  photos,
		quotas:  quotas,
		queue:   queue,
		log:     log,
	}
}

// StartTask accepts a generation request. Repeated submissions with the
// same (user, idempotency key) return the original task instead of
// creating a duplicate.
func (s *TaskService) StartTask(ctx context.Context, userID string, req *model.TaskStartRequest) (*model.TaskStartResponse, error) {
	existing, err := s.tasks.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey)
	if err == nil {
		s.log.Info("duplicate task submission, returning existing task",
			"task_id", existing.ID, "user_id", userID)
		return &model.TaskStartResponse{
			TaskID:    existing.ID,
			Status:    existing.Status,
			CreatedAt: existing.CreatedAt,
		}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	upload, err := s.uploads.Get(ctx, req.UploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("lookup upload: %w", err)
	}
	if upload.UserID != userID {
		return nil, ErrUploadNotFound
	}

	task := &model.Task{
		ID:             uuid.NewString(),
		UserID:         userID,
		UploadID:       req.UploadID,
		Plan:           req.Plan,
		Gender:         req.Gender,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.TaskStatusQueued,
		CreatedAt:      time.Now(),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		// A concurrent submission with the same key can win the unique-index
		// race between our lookup and the insert.
		if dup, dupErr := s.tasks.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey); dupErr == nil {
			return &model.TaskStartResponse{
				TaskID:    dup.ID,
				Status:    dup.Status,
				CreatedAt: dup.CreatedAt,
			}, nil
		}
		return nil, fmt.Errorf("create task: %w", err)
	}

	jobID, err := s.queue.EnqueueGenerate(ctx, &model.GenerateJobPayload{
		TaskID:         task.ID,
		UserID:         userID,
		UploadID:       req.UploadID,
		Plan:           req.Plan,
		Gender:         req.Gender,
		IdempotencyKey: req.IdempotencyKey,
	}, 0)
	if err != nil {
		// The task row exists but no job backs it; fail it so the client is
		// not left polling a task that will never run.
		if failErr := s.tasks.Fail(ctx, task.ID, model.ErrCodeInternal, "failed to enqueue job"); failErr != nil {
			s.log.Error("failed to fail unenqueued task", "task_id", task.ID, "error", failErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.log.Info("task accepted",
		"task_id", task.ID, "user_id", userID, "plan", req.Plan, "job_id", jobID)

	return &model.TaskStartResponse{
		TaskID:    task.ID,
		Status:    task.Status,
		CreatedAt: task.CreatedAt,
	}, nil
}

// GetStatus returns the polled read model for a task the user owns.
func (s *TaskService) GetStatus(ctx context.Context, userID, taskID string) (*model.TaskStatusResponse, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("lookup task: %w", err)
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return task.StatusView(), nil
}

// ListPhotos returns the persisted outputs of a completed (or running)
// task the user owns, grouped by creation order.
func (s *TaskService) ListPhotos(ctx context.Context, userID, taskID string) ([]*model.Photo, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("lookup task: %w", err)
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return s.photos.ListByTask(ctx, taskID)
}

// GetDailyQuota reports the user's free-tier usage for today (UTC).
func (s *TaskService) GetDailyQuota(ctx context.Context, userID string) (*model.DailyQuota, error) {
	day := model.QuotaDay(time.Now())
	quota, err := s.quotas.Get(ctx, userID, day)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.DailyQuota{UserID: userID, Day: day}, nil
		}
		return nil, fmt.Errorf("lookup quota: %w", err)
	}
	return quota, nil
}
