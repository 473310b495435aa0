package api

import (
	"errors"
	"log/slog"
	"net/http"

	"guest-concierge/internal/conversation"
	"guest-concierge/internal/models"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	Store      *conversation.Store
	Dispatcher *conversation.Dispatcher
	log        *slog.Logger
}

func NewConversationHandler(store *conversation.Store, dispatcher *conversation.Dispatcher, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{Store: store, Dispatcher: dispatcher, log: orDefault(logger)}
}

// GetConversations lists active conversations, searchable by guest name,
// phone or booking id.
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	convs, err := h.Store.List(c.Request.Context(), conversation.Filter{
		Query:      c.Query("q"),
		PropertyID: c.Query("property_id"),
		Limit:      queryInt(c, "limit"),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *ConversationHandler) GetHistory(c *gin.Context) {
	history, err := h.Store.History(c.Request.Context(), c.Query("booking_id"), c.Query("phone"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SendMessage sends a host-authored reply. Auto-response is switched off for
// the conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.Dispatcher.SendGuestReply(c.Request.Context(), c.Param("id"), req.Text,
		conversation.ReplyOptions{Sender: models.SenderHost})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

type LinkRequest struct {
	BookingID string `json:"booking_id" binding:"required"`
}

// LinkBooking threads a phone-keyed conversation onto a booking. The
// response is the surviving conversation, which differs from :id when the
// booking already had one.
func (h *ConversationHandler) LinkBooking(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, err := h.Store.LinkToBooking(c.Request.Context(), c.Param("id"), req.BookingID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type AutoResponseRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *ConversationHandler) SetAutoResponse(c *gin.Context) {
	var req AutoResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Enabled == nil {
		badRequest(c, errors.New("enabled is required"))
		return
	}
	conv, err := h.Store.SetAutoResponse(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
