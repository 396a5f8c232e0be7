package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/gaole-2025/rizzify-sub000/internal/client"
	"github.com/gaole-2025/rizzify-sub000/internal/config"
	"github.com/gaole-2025/rizzify-sub000/internal/model"
	"github.com/gaole-2025/rizzify-sub000/internal/repository"
	"github.com/gaole-2025/rizzify-sub000/internal/watermark"
)

// Progress checkpoints per pipeline stage. The generation stage fills the
// span between generateStart and generateEnd proportionally.
const (
	progressFetchRef       = 5
	progressRegisterUpload = 10
	progressBeautifyStart  = 15
	progressBeautifyDone   = 25
	progressGenerateStart  = 25
	progressGenerateEnd    = 95
)

// Transferrer moves images between the external delivery URLs and durable
// object storage.
type Transferrer interface {
	DownloadAndUpload(ctx context.Context, sourceURL, destKey string) (int64, error)
	Download(ctx context.Context, sourceURL string) ([]byte, error)
	UploadBuffer(ctx context.Context, data []byte, destKey, contentType string) (int64, error)
}

// Sampler draws the plan-sized prompt list for a gender.
type Sampler interface {
	Sample(gender model.Gender, count int) ([]model.Prompt, error)
}

// ProgressHub pushes live updates to subscribed clients. Polling the task
// row stays the source of truth; the hub is best-effort.
type ProgressHub interface {
	BroadcastProgress(taskID string, progress, etaSeconds int)
	BroadcastComplete(taskID string)
	BroadcastError(taskID, code, message string)
}

// PublicURLResolver maps a storage key to its public URL.
type PublicURLResolver interface {
	GetPublicURL(key string) string
}

// Deps wires the orchestrator's collaborators. Everything is an interface
// so the pipeline is testable against in-memory fakes.
type Deps struct {
	Tasks       repository.TaskRepository
	Uploads     repository.UploadRepository
	Photos      repository.PhotoRepository
	Quotas      repository.QuotaRepository
	Generator   client.ImageGenerator
	Transfer    Transferrer
	Stamper     *watermark.Stamper
	Sampler     Sampler
	UploadStore PublicURLResolver
	Hub         ProgressHub
	Plans       config.PlansConfig

	BatchSize       int
	PerImageSeconds int
	Log             *slog.Logger
}

// GenerateWorker drives the multi-stage generation pipeline for one
// claimed task: beautify → sample → generate → post-process → persist →
// finalize.
type GenerateWorker struct {
	deps Deps
}

func NewGenerateWorker(deps Deps) *GenerateWorker {
	if deps.BatchSize < 1 {
		deps.BatchSize = 5
	}
	if deps.PerImageSeconds < 1 {
		deps.PerImageSeconds = 12
	}
	if deps.Hub == nil {
		deps.Hub = nopHub{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &GenerateWorker{deps: deps}
}

// ProcessTask handles one queue delivery. Because delivery is
// at-least-once, the task row is claimed with a conditional transition
// first; a delivery for a task that is no longer queued is discarded.
// After a successful claim every failure is terminal for the task (marked
// error, never retried by the orchestrator).
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TaskID == "" {
		return fmt.Errorf("job payload missing task id: %w", asynq.SkipRetry)
	}

	log := w.deps.Log.With("task_id", payload.TaskID, "plan", payload.Plan)

	claimed, err := w.deps.Tasks.Claim(ctx, payload.TaskID)
	if err != nil {
		// Claim never happened; let the queue redeliver.
		return fmt.Errorf("claim task %s: %w", payload.TaskID, err)
	}
	if !claimed {
		log.Info("discarding redelivered job, task no longer queued")
		return nil
	}

	log.Info("task claimed")
	w.run(ctx, &payload, log)
	return nil
}

func (w *GenerateWorker) run(ctx context.Context, payload *model.GenerateJobPayload, log *slog.Logger) {
	taskID := payload.TaskID

	// Stage: fetch reference
	upload, err := w.deps.Uploads.Get(ctx, payload.UploadID)
	if err != nil {
		w.failTask(ctx, taskID, model.ErrCodeUploadMissing, "reference upload not found", log)
		return
	}
	w.publish(ctx, taskID, progressFetchRef, 0)

	// Stage: register the raw reference as a photo
	uploadedPhoto := &model.Photo{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Section:      model.SectionUploaded,
		StorageKey:   upload.StorageKey,
		OriginalName: "reference.jpg",
		Width:        upload.Width,
		Height:       upload.Height,
		MimeType:     upload.ContentType,
		SizeBytes:    upload.SizeBytes,
	}
	if _, err := w.deps.Photos.CreateBatch(ctx, []*model.Photo{uploadedPhoto}); err != nil {
		w.failTask(ctx, taskID, model.ErrCodePersistFailed, "failed to register uploaded photo", log)
		return
	}
	w.publish(ctx, taskID, progressRegisterUpload, 0)

	// Stage: beautify the reference
	w.publish(ctx, taskID, progressBeautifyStart, 0)
	refURL := w.deps.UploadStore.GetPublicURL(upload.StorageKey)
	beautifiedURL, err := w.deps.Generator.Beautify(ctx, refURL)
	if err != nil {
		w.failTask(ctx, taskID, model.ErrCodeBeautifyFailed, "beautify call failed", log)
		return
	}

	beautifiedKey := fmt.Sprintf("results/%s/%s/001.jpg", taskID, model.SectionBeautified)
	beautifiedSize, err := w.deps.Transfer.DownloadAndUpload(ctx, beautifiedURL, beautifiedKey)
	if err != nil {
		w.failTask(ctx, taskID, model.ErrCodeBeautifyFailed, "failed to store beautified image", log)
		return
	}
	beautifiedPhoto := &model.Photo{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Section:      model.SectionBeautified,
		StorageKey:   beautifiedKey,
		OriginalName: "001.jpg",
		MimeType:     "image/jpeg",
		SizeBytes:    beautifiedSize,
	}
	if _, err := w.deps.Photos.CreateBatch(ctx, []*model.Photo{beautifiedPhoto}); err != nil {
		w.failTask(ctx, taskID, model.ErrCodePersistFailed, "failed to persist beautified photo", log)
		return
	}
	w.publish(ctx, taskID, progressBeautifyDone, 0)

	// Stage: sample prompts
	quota := w.deps.Plans.QuotaFor(string(payload.Plan))
	prompts, err := w.deps.Sampler.Sample(payload.Gender, quota)
	if err != nil {
		w.failTask(ctx, taskID, model.ErrCodePromptsFailed, "prompt sampling failed", log)
		return
	}
	w.publish(ctx, taskID, progressGenerateStart, quota*w.deps.PerImageSeconds)

	// Stage: generate styled photos in windows
	produced, err := w.generateStyled(ctx, payload, prompts, beautifiedURL, log)
	if err != nil {
		w.failTask(ctx, taskID, model.ErrCodePersistFailed, "failed to persist generated photos", log)
		return
	}

	// Stage: free-tier quota update
	if payload.Plan == model.PlanFree {
		day := model.QuotaDay(time.Now())
		if err := w.deps.Quotas.Increment(ctx, payload.UserID, day, 1); err != nil {
			w.failTask(ctx, taskID, model.ErrCodeInternal, "failed to update daily quota", log)
			return
		}
	}

	// Stage: finalize
	if err := w.deps.Tasks.Complete(ctx, taskID); err != nil {
		log.Error("failed to mark task done", "error", err)
		return
	}
	w.deps.Hub.BroadcastComplete(taskID)
	log.Info("task completed", "requested", quota, "produced", produced)
}

// generateStyled runs the windowed generate → download → (watermark) →
// upload → batch-persist loop. Individual request failures degrade the
// output count but never fail the task; only a metadata-store write
// failure is returned.
func (w *GenerateWorker) generateStyled(ctx context.Context, payload *model.GenerateJobPayload, prompts []model.Prompt, referenceURL string, log *slog.Logger) (int, error) {
	taskID := payload.TaskID
	section := model.SectionForPlan(payload.Plan)
	total := len(prompts)
	produced := 0

	for start := 0; start < total; start += w.deps.BatchSize {
		end := start + w.deps.BatchSize
		if end > total {
			end = total
		}

		reqs := make([]client.GenerationRequest, 0, end-start)
		for _, p := range prompts[start:end] {
			reqs = append(reqs, client.GenerationRequest{
				Prompt:   p.Text,
				ImageURL: referenceURL,
				N:        1,
			})
		}

		results := w.deps.Generator.Generate(ctx, reqs)

		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			photos []*model.Photo
		)
		for i, res := range results {
			if res.Err != nil {
				log.Warn("image generation failed, degrading output count",
					"index", start+i+1, "error", res.Err)
				continue
			}

			index := start + i + 1
			wg.Add(1)
			go func(index int, url string) {
				defer wg.Done()
				photo, err := w.storeOutput(ctx, taskID, section, index, url, payload.Plan)
				if err != nil {
					log.Warn("failed to store generated image", "index", index, "error", err)
					return
				}
				mu.Lock()
				photos = append(photos, photo)
				mu.Unlock()
			}(index, res.URL)
		}
		wg.Wait()

		if len(photos) > 0 {
			if _, err := w.deps.Photos.CreateBatch(ctx, photos); err != nil {
				return produced, err
			}
			produced += len(photos)
		}

		// Progress tracks prompts processed, not successes; ETA is the
		// remaining count times the per-image constant.
		span := progressGenerateEnd - progressGenerateStart
		progress := progressGenerateStart + span*end/total
		eta := (total - end) * w.deps.PerImageSeconds
		w.publish(ctx, taskID, progress, eta)
	}

	return produced, nil
}

// storeOutput lands one generated image in the results bucket. Free-tier
// outputs are watermarked in memory; paid tiers stream through a scratch
// file.
func (w *GenerateWorker) storeOutput(ctx context.Context, taskID string, section model.Section, index int, sourceURL string, plan model.Plan) (*model.Photo, error) {
	key := fmt.Sprintf("results/%s/%s/%03d.jpg", taskID, section, index)
	photo := &model.Photo{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Section:      section,
		StorageKey:   key,
		OriginalName: fmt.Sprintf("%03d.jpg", index),
		MimeType:     "image/jpeg",
	}

	if plan == model.PlanFree {
		data, err := w.deps.Transfer.Download(ctx, sourceURL)
		if err != nil {
			return nil, err
		}
		stamped := w.deps.Stamper.Stamp(data)
		size, err := w.deps.Transfer.UploadBuffer(ctx, stamped, key, "image/jpeg")
		if err != nil {
			return nil, err
		}
		photo.SizeBytes = size
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(stamped)); err == nil {
			photo.Width = cfg.Width
			photo.Height = cfg.Height
		}
		return photo, nil
	}

	size, err := w.deps.Transfer.DownloadAndUpload(ctx, sourceURL, key)
	if err != nil {
		return nil, err
	}
	photo.SizeBytes = size
	return photo, nil
}

// publish writes progress to the task row (refreshing the heartbeat) and
// pushes it to subscribers.
func (w *GenerateWorker) publish(ctx context.Context, taskID string, progress, etaSeconds int) {
	if err := w.deps.Tasks.UpdateProgress(ctx, taskID, progress, etaSeconds); err != nil {
		w.deps.Log.Warn("failed to update progress", "task_id", taskID, "error", err)
	}
	w.deps.Hub.BroadcastProgress(taskID, progress, etaSeconds)
}

func (w *GenerateWorker) failTask(ctx context.Context, taskID, code, message string, log *slog.Logger) {
	if err := w.deps.Tasks.Fail(ctx, taskID, code, message); err != nil {
		log.Error("failed to mark task as errored", "error", err)
	}
	w.deps.Hub.BroadcastError(taskID, code, message)
	log.Error("task failed", "code", code, "message", message)
}

// DeadLetterHandler marks a task errored once its job has exhausted queue
// retries, so dead-lettered jobs are never silently lost.
type DeadLetterHandler struct {
	tasks repository.TaskRepository
	log   *slog.Logger
}

func NewDeadLetterHandler(tasks repository.TaskRepository, log *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{tasks: tasks, log: log}
}

func (h *DeadLetterHandler) HandleError(ctx context.Context, t *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return
	}

	var payload model.GenerateJobPayload
	if jsonErr := json.Unmarshal(t.Payload(), &payload); jsonErr != nil || payload.TaskID == "" {
		h.log.Error("dead-lettered job with unreadable payload", "error", err)
		return
	}
	if failErr := h.tasks.Fail(ctx, payload.TaskID, model.ErrCodeInternal, "job retries exhausted"); failErr != nil {
		h.log.Error("failed to fail dead-lettered task", "task_id", payload.TaskID, "error", failErr)
		return
	}
	h.log.Warn("job dead-lettered, task marked errored", "task_id", payload.TaskID, "error", err)
}

type nopHub struct{}

func (nopHub) BroadcastProgress(string, int, int)    {}
func (nopHub) BroadcastComplete(string)              {}
func (nopHub) BroadcastError(string, string, string) {}
