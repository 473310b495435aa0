package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/models"
	"guest-concierge/internal/schedule"

	"github.com/gin-gonic/gin"
)

// BookingHandler is the sink for booking events from the property
// management system.
type BookingHandler struct {
	Engine *schedule.Engine
	log    *slog.Logger
}

func NewBookingHandler(engine *schedule.Engine, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{Engine: engine, log: orDefault(logger)}
}

type BookingRequest struct {
	PropertyID string `json:"property_id" binding:"required"`
	GuestName  string `json:"guest_name"`
	GuestPhone string `json:"guest_phone" binding:"required"`
	CheckIn    string `json:"check_in" binding:"required"`
	CheckOut   string `json:"check_out" binding:"required"`
	NumGuests  int    `json:"num_guests"`
	Status     string `json:"status"`
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(field, s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not a date: %w", field, s, apperr.ErrValidation)
	}
	return t, nil
}

// PutBooking creates or updates a booking and re-evaluates its schedule.
func (h *BookingHandler) PutBooking(c *gin.Context) {
	var req BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	checkIn, err := parseDate("check_in", req.CheckIn)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	checkOut, err := parseDate("check_out", req.CheckOut)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	b := &models.Booking{
		ID:         c.Param("id"),
		PropertyID: req.PropertyID,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		NumGuests:  req.NumGuests,
		Status:     req.Status,
	}
	created, res, err := h.Engine.UpsertBooking(c.Request.Context(), b)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"booking": b, "created": created, "schedule": res})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	b, err := h.Engine.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
