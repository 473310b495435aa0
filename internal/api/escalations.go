package api

import (
	"log/slog"
	"net/http"

	"guest-concierge/internal/escalation"
	"guest-concierge/internal/models"

	"github.com/gin-gonic/gin"
)

type EscalationHandler struct {
	Escalations *escalation.Manager
	log         *slog.Logger
}

func NewEscalationHandler(m *escalation.Manager, logger *slog.Logger) *EscalationHandler {
	return &EscalationHandler{Escalations: m, log: orDefault(logger)}
}

func (h *EscalationHandler) GetEscalations(c *gin.Context) {
	list, err := h.Escalations.List(c.Request.Context(), escalation.Filter{
		Status:     c.Query("status"),
		PropertyID: c.Query("property_id"),
		Query:      c.Query("q"),
		Limit:      queryInt(c, "limit"),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []models.Escalation{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *EscalationHandler) GetEscalation(c *gin.Context) {
	h.reply(c)(h.Escalations.Get(c.Request.Context(), c.Param("id")))
}

func (h *EscalationHandler) Acknowledge(c *gin.Context) {
	h.reply(c)(h.Escalations.Acknowledge(c.Request.Context(), c.Param("id")))
}

func (h *EscalationHandler) Start(c *gin.Context) {
	h.reply(c)(h.Escalations.Start(c.Request.Context(), c.Param("id")))
}

type ResolveRequest struct {
	Notes string `json:"notes" binding:"required"`
}

func (h *EscalationHandler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.reply(c)(h.Escalations.Resolve(c.Request.Context(), c.Param("id"), req.Notes))
}

func (h *EscalationHandler) reply(c *gin.Context) func(*models.Escalation, error) {
	return func(esc *models.Escalation, err error) {
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, esc)
	}
}
