// Package webhook receives WhatsApp Cloud API callbacks.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"guest-concierge/internal/assistant"
	"guest-concierge/internal/models"
	wa "guest-concierge/pkg/models"

	"github.com/gin-gonic/gin"
)

// Ingester stores an inbound guest message and schedules it for processing.
type Ingester interface {
	Ingest(ctx context.Context, in assistant.Inbound) (*models.Message, error)
}

type Handler struct {
	verifyToken string
	ingester    Ingester
	log         *slog.Logger
}

func NewHandler(verifyToken string, ingester Ingester, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifyToken: verifyToken, ingester: ingester, log: logger}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.verifyToken {
		h.log.Warn("webhook verification rejected", "mode", mode)
		c.Status(http.StatusForbidden)
		return
	}
	h.log.Info("webhook verified")
	c.String(http.StatusOK, challenge)
}

// HandleMessage stores every guest message in the payload and answers 200.
// Model calls happen later on the conversation's lane. A storage failure
// answers 500 so the channel redelivers; redeliveries are deduplicated by
// message id.
func (h *Handler) HandleMessage(c *gin.Context) {
	var payload wa.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn("invalid webhook payload", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := make(map[string]string, len(value.Contacts))
			for _, ct := range value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}

			for _, st := range value.Statuses {
				h.log.Debug("delivery status", "id", st.ID, "status", st.Status, "recipient", st.RecipientID)
			}

			for _, m := range value.Messages {
				body, ok := m.GuestText()
				if !ok {
					h.log.Info("unsupported inbound message ignored", "type", m.Type, "from", m.From)
					continue
				}
				_, err := h.ingester.Ingest(ctx, assistant.Inbound{
					Phone:      m.From,
					Name:       names[m.From],
					Body:       body,
					ExternalID: m.ID,
					ReceivedAt: parseTimestamp(m.Timestamp),
				})
				if err != nil {
					h.log.Error("store inbound message", "external_id", m.ID, "error", err)
					c.Status(http.StatusInternalServerError)
					return
				}
			}
		}
	}

	c.Status(http.StatusOK)
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
