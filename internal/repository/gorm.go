package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

// Open connects to Postgres and runs migrations for the pipeline tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the pipeline tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Task{},
		&model.Upload{},
		&model.Photo{},
		&model.DailyQuota{},
	)
}

// --- tasks ---

type GormTaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *GormTaskRepository {
	return &GormTaskRepository{db: db}
}

func (r *GormTaskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *GormTaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *GormTaskRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		First(&task, "user_id = ? AND idempotency_key = ?", userID, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Claim is a conditional state transition: only a task still in queued moves
// to running, so a redelivered job cannot re-run a task another worker owns
// or already finished.
func (r *GormTaskRepository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.TaskStatusQueued).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusRunning,
			"started_at":   now,
			"heartbeat_at": now,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *GormTaskRepository) UpdateProgress(ctx context.Context, id string, progress, etaSeconds int) error {
	// The progress guard keeps the column non-decreasing even if an update
	// arrives out of order.
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ? AND progress <= ?", id, model.TaskStatusRunning, progress).
		Updates(map[string]interface{}{
			"progress":     progress,
			"eta_seconds":  etaSeconds,
			"heartbeat_at": time.Now(),
		}).Error
}

func (r *GormTaskRepository) Complete(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusDone,
			"progress":     100,
			"eta_seconds":  0,
			"completed_at": now,
			"heartbeat_at": now,
		}).Error
}

func (r *GormTaskRepository) Fail(ctx context.Context, id, code, message string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ?", id, []model.TaskStatus{model.TaskStatusQueued, model.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusError,
			"error_code":    code,
			"error_message": message,
			"eta_seconds":   0,
			"completed_at":  now,
		}).Error
}

func (r *GormTaskRepository) FailStalled(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("status = ? AND heartbeat_at < ?", model.TaskStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusError,
			"error_code":    model.ErrCodeWorkerStalled,
			"error_message": "worker stopped reporting progress",
			"eta_seconds":   0,
			"completed_at":  now,
		})
	return tx.RowsAffected, tx.Error
}

// --- uploads ---

type GormUploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) *GormUploadRepository {
	return &GormUploadRepository{db: db}
}

func (r *GormUploadRepository) Create(ctx context.Context, upload *model.Upload) error {
	return r.db.WithContext(ctx).Create(upload).Error
}

func (r *GormUploadRepository) Get(ctx context.Context, id string) (*model.Upload, error) {
	var upload model.Upload
	err := r.db.WithContext(ctx).First(&upload, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// --- photos ---

type GormPhotoRepository struct {
	db *gorm.DB
}

func NewPhotoRepository(db *gorm.DB) *GormPhotoRepository {
	return &GormPhotoRepository{db: db}
}

// CreateBatch inserts all records in one statement. Conflicting unique keys
// are skipped, so the returned count can be lower than len(photos).
func (r *GormPhotoRepository) CreateBatch(ctx context.Context, photos []*model.Photo) (int64, error) {
	if len(photos) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&photos)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

func (r *GormPhotoRepository) ListByTask(ctx context.Context, taskID string) ([]*model.Photo, error) {
	var photos []*model.Photo
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("storage_key").
		Find(&photos).Error
	if err != nil {
		return nil, err
	}
	return photos, nil
}

// --- daily quotas ---

type GormQuotaRepository struct {
	db *gorm.DB
}

func NewQuotaRepository(db *gorm.DB) *GormQuotaRepository {
	return &GormQuotaRepository{db: db}
}

// Increment uses read-then-upsert semantics: absent row starts at delta,
// existing row becomes existing + delta.
func (r *GormQuotaRepository) Increment(ctx context.Context, userID, day string, delta int) error {
	var existing model.DailyQuota
	err := r.db.WithContext(ctx).
		First(&existing, "user_id = ? AND day = ?", userID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := model.DailyQuota{UserID: userID, Day: day, UsedCount: delta}
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
				DoUpdates: clause.Assignments(map[string]interface{}{"used_count": gorm.Expr("daily_quota.used_count + ?", delta)}),
			}).
			Create(&row).Error
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&model.DailyQuota{}).
		Where("user_id = ? AND day = ?", userID, day).
		Update("used_count", existing.UsedCount+delta).Error
}

func (r *GormQuotaRepository) Get(ctx context.Context, userID, day string) (*model.DailyQuota, error) {
	var quota model.DailyQuota
	err := r.db.WithContext(ctx).First(&quota, "user_id = ? AND day = ?", userID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}
