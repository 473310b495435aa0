package api

import (
	"context"
	"log/slog"
	"net/http"

	"guest-concierge/internal/models"
	"guest-concierge/internal/schedule"
	"guest-concierge/internal/whatsapp"

	"github.com/gin-gonic/gin"
)

// TemplateSource lists the templates approved on the channel.
type TemplateSource interface {
	GetTemplates(ctx context.Context) ([]whatsapp.ApprovedTemplate, error)
}

type ScheduleHandler struct {
	Engine  *schedule.Engine
	Channel TemplateSource
	log     *slog.Logger
}

func NewScheduleHandler(engine *schedule.Engine, channel TemplateSource, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{Engine: engine, Channel: channel, log: orDefault(logger)}
}

func (h *ScheduleHandler) GetTemplates(c *gin.Context) {
	list, err := h.Engine.ListTemplates(c.Request.Context(), c.Query("property_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []models.ScheduleTemplate{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ScheduleHandler) CreateTemplate(c *gin.Context) {
	var t models.ScheduleTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.CreateTemplate(c.Request.Context(), &t); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *ScheduleHandler) UpdateTemplate(c *gin.Context) {
	var t models.ScheduleTemplate
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.UpdateTemplate(c.Request.Context(), c.Param("id"), &t); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *ScheduleHandler) DeleteTemplate(c *gin.Context) {
	if err := h.Engine.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Template deleted"})
}

// GetChannelTemplates lists the templates approved on the WhatsApp business
// account, for picking a content_ref.
func (h *ScheduleHandler) GetChannelTemplates(c *gin.Context) {
	if h.Channel == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "channel templates not configured"})
		return
	}
	list, err := h.Channel.GetTemplates(c.Request.Context())
	if err != nil {
		h.log.Warn("fetch channel templates", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch templates: " + err.Error()})
		return
	}
	if list == nil {
		list = []whatsapp.ApprovedTemplate{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ScheduleHandler) GetRules(c *gin.Context) {
	list, err := h.Engine.ListRules(c.Request.Context(), c.Query("property_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []models.ScheduleRule{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ScheduleHandler) CreateRule(c *gin.Context) {
	var r models.ScheduleRule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.CreateRule(c.Request.Context(), &r); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *ScheduleHandler) UpdateRule(c *gin.Context) {
	var r models.ScheduleRule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.Engine.UpdateRule(c.Request.Context(), c.Param("id"), &r); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ScheduleHandler) DeleteRule(c *gin.Context) {
	if err := h.Engine.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Rule deleted"})
}

func (h *ScheduleHandler) GetMessages(c *gin.Context) {
	list, err := h.Engine.ListMessages(c.Request.Context(), schedule.MessageFilter{
		Status:     c.Query("status"),
		BookingID:  c.Query("booking_id"),
		PropertyID: c.Query("property_id"),
		Limit:      queryInt(c, "limit"),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []models.ScheduledMessage{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ScheduleHandler) CancelMessage(c *gin.Context) {
	msg, err := h.Engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ProcessNow runs a sweep immediately. 409 when one is already running.
func (h *ScheduleHandler) ProcessNow(c *gin.Context) {
	res, err := h.Engine.ProcessNow(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if res.Skipped {
		c.JSON(http.StatusConflict, gin.H{"error": "a sweep is already running"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ScheduleHandler) RetryFailed(c *gin.Context) {
	var f schedule.RetryFilter
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&f); err != nil {
			badRequest(c, err)
			return
		}
	}
	n, err := h.Engine.RetryFailed(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (h *ScheduleHandler) GetStats(c *gin.Context) {
	st, err := h.Engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
