package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/trips-backend-go/internal/models"
	"github.com/jengzang/trips-backend-go/internal/repository"
	"github.com/jengzang/trips-backend-go/internal/service"
	"github.com/jengzang/trips-backend-go/internal/trip"
	"github.com/jengzang/trips-backend-go/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	service *service.RecorderService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(service *service.RecorderService) *TripHandler {
	return &TripHandler{service: service}
}

// StartTrip handles POST /api/v1/trips
func (h *TripHandler) StartTrip(c *gin.Context) {
	snap, err := h.service.StartTrip(c.Request.Context())
	if err != nil {
		fail(c, "Failed to start trip", err)
		return
	}
	response.Created(c, snap)
}

// GetTrips handles GET /api/v1/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}

	resp, err := h.service.ListTrips(c.Request.Context(), filter)
	if err != nil {
		fail(c, "Failed to get trips", err)
		return
	}
	response.Success(c, resp)
}

// GetTripByID handles GET /api/v1/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	snap, err := h.service.GetTrip(c.Request.Context(), id)
	if err != nil {
		fail(c, "Failed to get trip", err)
		return
	}
	response.Success(c, snap)
}

// UpdateTrip handles PATCH /api/v1/trips/:id
func (h *TripHandler) UpdateTrip(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	var details models.TripDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		response.BadRequest(c, "Invalid trip details", err)
		return
	}

	snap, err := h.service.UpdateDetails(c.Request.Context(), id, details)
	if err != nil {
		fail(c, "Failed to update trip", err)
		return
	}
	response.Success(c, snap)
}

// DeleteTrip handles DELETE /api/v1/trips/:id
func (h *TripHandler) DeleteTrip(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteTrip(c.Request.Context(), id); err != nil {
		fail(c, "Failed to delete trip", err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// RecordFix handles POST /api/v1/trips/:id/fixes
func (h *TripHandler) RecordFix(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	var fix models.RawFix
	if err := c.ShouldBindJSON(&fix); err != nil {
		response.BadRequest(c, "Invalid fix", err)
		return
	}

	out, err := h.service.RecordFix(c.Request.Context(), id, fix)
	if err != nil {
		fail(c, "Failed to record fix", err)
		return
	}
	response.Success(c, out)
}

// FinishTrip handles POST /api/v1/trips/:id/finish
func (h *TripHandler) FinishTrip(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	snap, err := h.service.FinishTrip(c.Request.Context(), id)
	if err != nil {
		fail(c, "Failed to finish trip", err)
		return
	}
	response.Success(c, snap)
}

// ResumeTrip handles POST /api/v1/trips/:id/resume
func (h *TripHandler) ResumeTrip(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	snap, err := h.service.ResumeTrip(c.Request.Context(), id)
	if err != nil {
		fail(c, "Failed to resume trip", err)
		return
	}
	response.Success(c, snap)
}

// GetPoints handles GET /api/v1/trips/:id/points
func (h *TripHandler) GetPoints(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	resp, err := h.service.GetPoints(c.Request.Context(), id)
	if err != nil {
		fail(c, "Failed to get trip points", err)
		return
	}
	response.Success(c, resp)
}

// GetTrack handles GET /api/v1/trips/:id/track?tolerance=meters
func (h *TripHandler) GetTrack(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}

	var q struct {
		Tolerance float64 `form:"tolerance" binding:"gte=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid tolerance", err)
		return
	}

	t, err := h.service.GetTrack(c.Request.Context(), id, q.Tolerance)
	if err != nil {
		fail(c, "Failed to get trip track", err)
		return
	}
	response.Success(c, t)
}

func tripID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		response.BadRequest(c, "Invalid trip ID", err)
		return 0, false
	}
	return id, true
}

// fail maps service errors to HTTP status codes
func fail(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, trip.ErrInvalidInput):
		response.BadRequest(c, message, err)
	case errors.Is(err, repository.ErrTripNotFound):
		response.Error(c, http.StatusNotFound, "Trip not found", err)
	case errors.Is(err, trip.ErrTripClosed):
		response.Error(c, http.StatusConflict, message, err)
	default:
		response.InternalError(c, message, err)
	}
}
