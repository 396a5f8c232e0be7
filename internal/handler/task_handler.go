package handler

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gaole-2025/rizzify-sub000/internal/middleware"
	"github.com/gaole-2025/rizzify-sub000/internal/model"
	"github.com/gaole-2025/rizzify-sub000/internal/service"
	"github.com/gaole-2025/rizzify-sub000/pkg/response"
)

type TaskHandler struct {
	service  *service.TaskService
	validate *validator.Validate
	log      *slog.Logger
}

func NewTaskHandler(svc *service.TaskService, log *slog.Logger) *TaskHandler {
	return &TaskHandler{
		service:  svc,
		validate: validator.New(),
		log:      log,
	}
}

// StartTask handles POST /api/tasks
func (h *TaskHandler) StartTask(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Authentication required")
	}

	var req model.TaskStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Invalid request", validationDetails(err))
	}

	resp, err := h.service.StartTask(c.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrUploadNotFound) {
			return response.NotFound(c, "Upload not found")
		}
		h.log.Error("failed to start task", "user_id", userID, "error", err)
		return response.ServiceError(c, "Failed to start task")
	}

	return response.Accepted(c, resp)
}

// GetStatus handles GET /api/tasks/:taskId/status
func (h *TaskHandler) GetStatus(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Authentication required")
	}

	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Missing task id", nil)
	}

	resp, err := h.service.GetStatus(c.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		h.log.Error("failed to get task status", "task_id", taskID, "error", err)
		return response.ServiceError(c, "Failed to get task status")
	}

	return response.OK(c, resp)
}

// ListPhotos handles GET /api/tasks/:taskId/photos
func (h *TaskHandler) ListPhotos(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Authentication required")
	}

	taskID := c.Params("taskId")
	if taskID == "" {
		return response.ValidationError(c, "Missing task id", nil)
	}

	photos, err := h.service.ListPhotos(c.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return response.NotFound(c, "Task not found")
		}
		h.log.Error("failed to list task photos", "task_id", taskID, "error", err)
		return response.ServiceError(c, "Failed to list photos")
	}

	return response.OK(c, fiber.Map{"photos": photos})
}

// GetQuota handles GET /api/quota
func (h *TaskHandler) GetQuota(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == "" {
		return response.Unauthorized(c, "Authentication required")
	}

	quota, err := h.service.GetDailyQuota(c.Context(), userID)
	if err != nil {
		h.log.Error("failed to get quota", "user_id", userID, "error", err)
		return response.ServiceError(c, "Failed to get quota")
	}

	return response.OK(c, quota)
}

func validationDetails(err error) []fiber.Map {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]fiber.Map, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fiber.Map{
			"field": fe.Field(),
			"rule":  fe.Tag(),
		})
	}
	return details
}
