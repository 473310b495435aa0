package api

import (
	"log/slog"
	"net/http"

	"guest-concierge/internal/audit"
	"guest-concierge/internal/models"
	"guest-concierge/internal/ws"

	"github.com/gin-gonic/gin"
)

// AlertHandler serves the host's audit trail and live event feed.
type AlertHandler struct {
	Audit *audit.Recorder
	Hub   *ws.Hub
	log   *slog.Logger
}

func NewAlertHandler(rec *audit.Recorder, hub *ws.Hub, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{Audit: rec, Hub: hub, log: orDefault(logger)}
}

// GetAlerts lists recent failures, or every audit row with ?all=true.
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	rows, err := h.Audit.Recent(c.Request.Context(), queryInt(c, "limit"), c.Query("all") != "true")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if rows == nil {
		rows = []models.AuditLog{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AlertHandler) ServeWs(c *gin.Context) {
	h.Hub.ServeWs(c.Writer, c.Request)
}
