package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/gaole-2025/rizzify-sub000/internal/client"
	"github.com/gaole-2025/rizzify-sub000/internal/config"
	"github.com/gaole-2025/rizzify-sub000/internal/model"
	"github.com/gaole-2025/rizzify-sub000/internal/repository"
	"github.com/gaole-2025/rizzify-sub000/internal/watermark"
)

// --- in-memory fakes ---

type memTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
}

func newMemTaskRepo() *memTaskRepo {
	return &memTaskRepo{tasks: make(map[string]*model.Task)}
}

func (r *memTaskRepo) Create(_ context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *memTaskRepo) Get(_ context.Context, id string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (r *memTaskRepo) GetByIdempotencyKey(_ context.Context, userID, key string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.tasks {
		if task.UserID == userID && task.IdempotencyKey == key {
			cp := *task
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTaskRepo) Claim(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Status != model.TaskStatusQueued {
		return false, nil
	}
	now := time.Now()
	task.Status = model.TaskStatusRunning
	task.StartedAt = &now
	task.HeartbeatAt = &now
	return true, nil
}

func (r *memTaskRepo) UpdateProgress(_ context.Context, id string, progress, etaSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Status != model.TaskStatusRunning || task.Progress > progress {
		return nil
	}
	now := time.Now()
	task.Progress = progress
	task.ETASeconds = etaSeconds
	task.HeartbeatAt = &now
	return nil
}

func (r *memTaskRepo) Complete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Status != model.TaskStatusRunning {
		return nil
	}
	now := time.Now()
	task.Status = model.TaskStatusDone
	task.Progress = 100
	task.ETASeconds = 0
	task.CompletedAt = &now
	return nil
}

func (r *memTaskRepo) Fail(_ context.Context, id, code, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || (task.Status != model.TaskStatusQueued && task.Status != model.TaskStatusRunning) {
		return nil
	}
	now := time.Now()
	task.Status = model.TaskStatusError
	task.ErrorCode = code
	task.ErrorMessage = message
	task.CompletedAt = &now
	return nil
}

func (r *memTaskRepo) FailStalled(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, task := range r.tasks {
		if task.Status == model.TaskStatusRunning && task.HeartbeatAt != nil && task.HeartbeatAt.Before(cutoff) {
			task.Status = model.TaskStatusError
			task.ErrorCode = model.ErrCodeWorkerStalled
			swept++
		}
	}
	return swept, nil
}

type memUploadRepo struct {
	uploads map[string]*model.Upload
}

func (r *memUploadRepo) Create(_ context.Context, upload *model.Upload) error {
	r.uploads[upload.ID] = upload
	return nil
}

func (r *memUploadRepo) Get(_ context.Context, id string) (*model.Upload, error) {
	upload, ok := r.uploads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return upload, nil
}

type memPhotoRepo struct {
	mu     sync.Mutex
	photos []*model.Photo
	keys   map[string]bool
}

func newMemPhotoRepo() *memPhotoRepo {
	return &memPhotoRepo{keys: make(map[string]bool)}
}

func (r *memPhotoRepo) CreateBatch(_ context.Context, photos []*model.Photo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted int64
	for _, p := range photos {
		if r.keys[p.StorageKey] {
			continue
		}
		r.keys[p.StorageKey] = true
		r.photos = append(r.photos, p)
		inserted++
	}
	return inserted, nil
}

func (r *memPhotoRepo) ListByTask(_ context.Context, taskID string) ([]*model.Photo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Photo
	for _, p := range r.photos {
		if p.TaskID == taskID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPhotoRepo) countBySection(taskID string, section model.Section) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.photos {
		if p.TaskID == taskID && p.Section == section {
			n++
		}
	}
	return n
}

type memQuotaRepo struct {
	mu    sync.Mutex
	used  map[string]int
	calls int
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{used: make(map[string]int)}
}

func (r *memQuotaRepo) Increment(_ context.Context, userID, day string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used[userID+"|"+day] += delta
	r.calls++
	return nil
}

func (r *memQuotaRepo) Get(_ context.Context, userID, day string) (*model.DailyQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	used, ok := r.used[userID+"|"+day]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.DailyQuota{UserID: userID, Day: day, UsedCount: used}, nil
}

// fakeGenerator succeeds for every request except each failEvery-th one.
type fakeGenerator struct {
	mu          sync.Mutex
	calls       int
	failEvery   int
	beautifyErr error
}

func (g *fakeGenerator) Generate(_ context.Context, reqs []client.GenerationRequest) []client.GenerationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	results := make([]client.GenerationResult, len(reqs))
	for i := range reqs {
		g.calls++
		if g.failEvery > 0 && g.calls%g.failEvery == 0 {
			results[i] = client.GenerationResult{Err: fmt.Errorf("generation failed after 3 attempts")}
			continue
		}
		results[i] = client.GenerationResult{URL: fmt.Sprintf("https://gen.test/%d.jpg", g.calls)}
	}
	return results
}

func (g *fakeGenerator) Beautify(_ context.Context, imageURL string) (string, error) {
	if g.beautifyErr != nil {
		return "", g.beautifyErr
	}
	return "https://gen.test/beautified.jpg", nil
}

// fakeTransfer records destination keys instead of touching the network.
type fakeTransfer struct {
	mu      sync.Mutex
	stored  map[string]string
	failKey string
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{stored: make(map[string]string)}
}

func (f *fakeTransfer) DownloadAndUpload(_ context.Context, sourceURL, destKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKey != "" && destKey == f.failKey {
		return 0, fmt.Errorf("transfer failed")
	}
	f.stored[destKey] = sourceURL
	return 1024, nil
}

func (f *fakeTransfer) Download(_ context.Context, sourceURL string) ([]byte, error) {
	return []byte("image:" + sourceURL), nil
}

func (f *fakeTransfer) UploadBuffer(_ context.Context, data []byte, destKey, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[destKey] = string(data)
	return int64(len(data)), nil
}

type fakeSampler struct{}

func (fakeSampler) Sample(gender model.Gender, count int) ([]model.Prompt, error) {
	prompts := make([]model.Prompt, count)
	for i := range prompts {
		prompts[i] = model.Prompt{
			ID:     fmt.Sprintf("p-%03d", i+1),
			Gender: gender,
			Text:   fmt.Sprintf("portrait variation %d", i+1),
		}
	}
	return prompts, nil
}

type fakeResolver struct{}

func (fakeResolver) GetPublicURL(key string) string {
	return "https://uploads.test/" + key
}

// --- test harness ---

type pipelineFixture struct {
	tasks    *memTaskRepo
	uploads  *memUploadRepo
	photos   *memPhotoRepo
	quotas   *memQuotaRepo
	gen      *fakeGenerator
	transfer *fakeTransfer
	worker   *GenerateWorker
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		tasks:    newMemTaskRepo(),
		uploads:  &memUploadRepo{uploads: make(map[string]*model.Upload)},
		photos:   newMemPhotoRepo(),
		quotas:   newMemQuotaRepo(),
		gen:      &fakeGenerator{},
		transfer: newFakeTransfer(),
	}
	f.worker = NewGenerateWorker(Deps{
		Tasks:           f.tasks,
		Uploads:         f.uploads,
		Photos:          f.photos,
		Quotas:          f.quotas,
		Generator:       f.gen,
		Transfer:        f.transfer,
		Stamper:         watermark.NewStamper("rizzify.app", 0.35),
		Sampler:         fakeSampler{},
		UploadStore:     fakeResolver{},
		Plans:           config.PlansConfig{FreeCount: 2, StartCount: 20, ProCount: 50},
		BatchSize:       5,
		PerImageSeconds: 12,
		Log:             slog.New(slog.NewTextHandler(testLogWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	return f
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func (f *pipelineFixture) seedTask(t *testing.T, plan model.Plan) *model.Task {
	t.Helper()
	upload := &model.Upload{
		ID:          uuid.NewString(),
		UserID:      "user-1",
		StorageKey:  "uploads/user-1/ref.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   2048,
		Width:       800,
		Height:      600,
	}
	f.uploads.uploads[upload.ID] = upload

	task := &model.Task{
		ID:             uuid.NewString(),
		UserID:         "user-1",
		UploadID:       upload.ID,
		Plan:           plan,
		Gender:         model.GenderFemale,
		IdempotencyKey: uuid.NewString(),
		Status:         model.TaskStatusQueued,
		CreatedAt:      time.Now(),
	}
	if err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func jobFor(t *testing.T, task *model.Task) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(&model.GenerateJobPayload{
		TaskID:         task.ID,
		UserID:         task.UserID,
		UploadID:       task.UploadID,
		Plan:           task.Plan,
		Gender:         task.Gender,
		IdempotencyKey: task.IdempotencyKey,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask("portrait:generate", payload)
}

// --- tests ---

func TestProcessTask_FreeTierEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.seedTask(t, model.PlanFree)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := f.tasks.Get(ctx, task.ID)
	if got.Status != model.TaskStatusDone {
		t.Fatalf("expected done, got %s (%s: %s)", got.Status, got.ErrorCode, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Errorf("expected progress 100, got %d", got.Progress)
	}

	if n := f.photos.countBySection(task.ID, model.SectionUploaded); n != 1 {
		t.Errorf("expected 1 uploaded photo, got %d", n)
	}
	if n := f.photos.countBySection(task.ID, model.SectionBeautified); n != 1 {
		t.Errorf("expected 1 beautified photo, got %d", n)
	}
	if n := f.photos.countBySection(task.ID, model.SectionFree); n != 2 {
		t.Errorf("expected 2 free photos, got %d", n)
	}

	// Beautified image lands under its fixed key.
	beautifiedKey := fmt.Sprintf("results/%s/beautified/001.jpg", task.ID)
	if f.transfer.stored[beautifiedKey] != "https://gen.test/beautified.jpg" {
		t.Errorf("beautified image not stored under %s", beautifiedKey)
	}

	// Free outputs go through the in-memory watermark path.
	freeKey := fmt.Sprintf("results/%s/free/001.jpg", task.ID)
	if _, ok := f.transfer.stored[freeKey]; !ok {
		t.Errorf("free output not stored under %s", freeKey)
	}

	day := model.QuotaDay(time.Now())
	quota, err := f.quotas.Get(ctx, task.UserID, day)
	if err != nil {
		t.Fatalf("quota get: %v", err)
	}
	if quota.UsedCount != 1 {
		t.Errorf("expected quota used 1, got %d", quota.UsedCount)
	}
	if f.quotas.calls != 1 {
		t.Errorf("expected exactly one quota increment, got %d", f.quotas.calls)
	}
}

func TestProcessTask_ProTierToleratesPartialFailures(t *testing.T) {
	f := newPipelineFixture(t)
	f.gen.failEvery = 10 // every tenth generation request fails
	task := f.seedTask(t, model.PlanPro)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := f.tasks.Get(ctx, task.ID)
	if got.Status != model.TaskStatusDone {
		t.Fatalf("expected done despite partial failures, got %s", got.Status)
	}

	styled := f.photos.countBySection(task.ID, model.SectionPro)
	if styled < 45 || styled > 50 {
		t.Errorf("expected styled count in [45,50], got %d", styled)
	}

	// Paid tiers never touch the quota counter.
	if f.quotas.calls != 0 {
		t.Errorf("expected no quota increments for pro, got %d", f.quotas.calls)
	}
}

func TestProcessTask_RedeliveryDiscarded(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.seedTask(t, model.PlanFree)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	photosAfterFirst := len(f.photos.photos)

	// Redelivery of the same job must be a no-op.
	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("redelivery should not error: %v", err)
	}
	if len(f.photos.photos) != photosAfterFirst {
		t.Errorf("redelivery created photos: %d -> %d", photosAfterFirst, len(f.photos.photos))
	}
	if f.quotas.calls != 1 {
		t.Errorf("redelivery incremented quota: %d calls", f.quotas.calls)
	}
}

func TestProcessTask_MissingUploadFailsTask(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.seedTask(t, model.PlanFree)
	delete(f.uploads.uploads, task.UploadID)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("missing upload is terminal, not retryable: %v", err)
	}

	got, _ := f.tasks.Get(ctx, task.ID)
	if got.Status != model.TaskStatusError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.ErrorCode != model.ErrCodeUploadMissing {
		t.Errorf("expected %s, got %s", model.ErrCodeUploadMissing, got.ErrorCode)
	}
}

func TestProcessTask_BeautifyFailureFailsTask(t *testing.T) {
	f := newPipelineFixture(t)
	f.gen.beautifyErr = errors.New("generation failed after 3 attempts")
	task := f.seedTask(t, model.PlanStart)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("beautify failure is terminal, not retryable: %v", err)
	}

	got, _ := f.tasks.Get(ctx, task.ID)
	if got.Status != model.TaskStatusError || got.ErrorCode != model.ErrCodeBeautifyFailed {
		t.Errorf("expected error/%s, got %s/%s", model.ErrCodeBeautifyFailed, got.Status, got.ErrorCode)
	}
	if n := f.photos.countBySection(task.ID, model.SectionStart); n != 0 {
		t.Errorf("no styled photos expected, got %d", n)
	}
}

func TestProcessTask_MalformedPayloadSkipsRetry(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.worker.ProcessTask(context.Background(), asynq.NewTask("portrait:generate", []byte("{not json")))
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("malformed payload should skip retry, got %v", err)
	}
}

func TestProcessTask_StyledKeysAreSequential(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.seedTask(t, model.PlanStart)
	ctx := context.Background()

	if err := f.worker.ProcessTask(ctx, jobFor(t, task)); err != nil {
		t.Fatalf("process: %v", err)
	}

	for i := 1; i <= 20; i++ {
		key := fmt.Sprintf("results/%s/start/%03d.jpg", task.ID, i)
		if _, ok := f.transfer.stored[key]; !ok {
			t.Errorf("missing styled output %s", key)
		}
	}
}
