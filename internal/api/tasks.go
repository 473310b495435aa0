package api

import (
	"context"
	"log/slog"
	"net/http"

	"guest-concierge/internal/models"
	"guest-concierge/internal/tasks"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	Tasks *tasks.Orchestrator
	log   *slog.Logger
}

func NewTaskHandler(o *tasks.Orchestrator, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{Tasks: o, log: orDefault(logger)}
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	list, err := h.Tasks.List(c.Request.Context(), tasks.Filter{
		Status:         c.Query("status"),
		PropertyID:     c.Query("property_id"),
		ConversationID: c.Query("conversation_id"),
		Query:          c.Query("q"),
		Limit:          queryInt(c, "limit"),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []models.Task{}
	}
	c.JSON(http.StatusOK, list)
}

type CreateTaskRequest struct {
	tasks.Spec
	Recurrence *models.Recurrence `json:"recurrence,omitempty"`
}

// CreateTask stores a host-created task. A recurrence makes it the first
// occurrence of a series.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.Source = tasks.SourceHost

	var task *models.Task
	var err error
	if req.Recurrence != nil {
		task, err = h.Tasks.CreateRecurring(c.Request.Context(), req.Spec, *req.Recurrence)
	} else {
		task, err = h.Tasks.Create(c.Request.Context(), req.Spec)
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	h.respond(c, func(ctx context.Context, id string) (*models.Task, error) {
		return h.Tasks.Get(ctx, id)
	})
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var req tasks.Update
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, func(ctx context.Context, id string) (*models.Task, error) {
		return h.Tasks.Update(ctx, id, req)
	})
}

// DeleteTask archives the task; archived tasks are kept for the record.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	h.respond(c, h.Tasks.Delete)
}

type AssignRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

func (h *TaskHandler) AssignTask(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respond(c, func(ctx context.Context, id string) (*models.Task, error) {
		return h.Tasks.Assign(ctx, id, req.StaffID)
	})
}

func (h *TaskHandler) StartTask(c *gin.Context) {
	h.respond(c, h.Tasks.Start)
}

func (h *TaskHandler) CompleteTask(c *gin.Context) {
	h.respond(c, h.Tasks.Complete)
}

func (h *TaskHandler) EscalateTask(c *gin.Context) {
	h.respond(c, h.Tasks.Escalate)
}

func (h *TaskHandler) respond(c *gin.Context, fn func(ctx context.Context, id string) (*models.Task, error)) {
	task, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
