package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/postfleet/postfleet/internal/engine"
	"github.com/postfleet/postfleet/internal/repository"
	"github.com/postfleet/postfleet/internal/service"
	"github.com/postfleet/postfleet/internal/transfer"
)

type TaskHandler struct {
	s service.TaskService
}

func NewTaskHandler(service service.TaskService) *TaskHandler {
	return &TaskHandler{s: service}
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var submission transfer.TaskSubmission
	if err := c.BodyParser(&submission); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	task, err := h.s.Submit(c.Context(), userID, &submission)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to create task",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	userID := GetUserID(c)
	taskID := c.Query("id")
	accountID := c.QueryInt("account_id", 0)

	if taskID != "" {
		task, err := h.s.Info(c.Context(), userID, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "Task not found",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to get task",
			})
		}
		return c.Status(fiber.StatusOK).JSON(task)
	}

	if accountID != 0 {
		tasks, err := h.s.ListByAccount(c.Context(), userID, int64(accountID))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to list tasks",
			})
		}
		return c.Status(fiber.StatusOK).JSON(tasks)
	}

	tasks, err := h.s.List(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list tasks",
		})
	}

	return c.Status(fiber.StatusOK).JSON(tasks)
}

// Calendar lists tasks whose effective time falls within [from, to) for the
// scheduling UI.
func (h *TaskHandler) Calendar(c *fiber.Ctx) error {
	userID := GetUserID(c)

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "from must be RFC 3339",
		})
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "to must be RFC 3339",
		})
	}

	tasks, err := h.s.Calendar(c.Context(), userID, from, to)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list tasks",
		})
	}

	return c.Status(fiber.StatusOK).JSON(tasks)
}

func (h *TaskHandler) TaskHistory(c *fiber.Ctx) error {
	userID := GetUserID(c)
	taskID := c.Query("id")

	events, err := h.s.History(c.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Task not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to get task history",
		})
	}

	return c.Status(fiber.StatusOK).JSON(events)
}

func (h *TaskHandler) CancelTask(c *fiber.Ctx) error {
	userID := GetUserID(c)
	taskID := c.Query("id")

	err := h.s.Cancel(c.Context(), userID, taskID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Task not found",
			})
		case errors.Is(err, engine.ErrNotCancellable):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Task is already executing",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to cancel task",
			})
		}
	}

	return c.SendStatus(fiber.StatusOK)
}
