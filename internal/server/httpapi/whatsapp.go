package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/gin-gonic/gin"
)

type WhatsAppHandler struct {
	deps Deps
}

type sendWebRequest struct {
	IDDevice string `json:"id_device" binding:"required"`
	ToNumber string `json:"to_number" binding:"required,numeric"`
	Message  string `json:"message" binding:"required"`
}

type sendAPIRequest struct {
	ToNumber string `json:"to_number" binding:"required,numeric"`
	Message  string `json:"message" binding:"required"`
}

type sendBulkRequest struct {
	IDDevice  string   `json:"id_device" binding:"required"`
	ToNumbers []string `json:"to_numbers" binding:"required,min=1,dive,required,numeric"`
	Message   string   `json:"message" binding:"required"`
}

// connectedDevice is ownedDevice restricted to devices with a live session.
func (h *WhatsAppHandler) connectedDevice(c *gin.Context, publicID string) *models.Device {
	device := ownedDevice(c, h.deps, publicID)
	if device == nil {
		return nil
	}
	if device.Status != models.DeviceConnected || !h.deps.Sessions.SessionExists(device.ID) {
		fail(c, http.StatusNotFound, "Device does not exist!")
		return nil
	}
	return device
}

// SendWeb queues one message and records it in the message history once
// sent.
func (h *WhatsAppHandler) SendWeb(c *gin.Context) {
	var req sendWebRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	device := h.connectedDevice(c, req.IDDevice)
	if device == nil {
		return
	}

	id, err := h.deps.Direct.Enqueue(c.Request.Context(), queue.DirectSend{
		DeviceID: device.ID,
		UserID:   device.UserID,
		To:       req.ToNumber,
		Message:  req.Message,
		UseWeb:   true,
	})
	if err != nil {
		h.deps.Logger.Error(c.Request.Context(), "enqueue failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occured during message send web.")
		return
	}

	respond(c, http.StatusOK, true, "Successful send message!", gin.H{
		"id_job":       id,
		"phone_number": req.ToNumber,
		"message":      req.Message,
		"status":       "queued",
	})
}

// SendAPI queues one message for the device named by the API key. No
// history is kept.
func (h *WhatsAppHandler) SendAPI(c *gin.Context) {
	var req sendAPIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	deviceID := c.GetString(deviceIDContextKey)
	if !h.deps.Sessions.SessionExists(deviceID) {
		fail(c, http.StatusNotFound, "Device does not exist!")
		return
	}

	_, err := h.deps.Direct.Enqueue(c.Request.Context(), queue.DirectSend{
		DeviceID: deviceID,
		UserID:   c.GetString(userIDContextKey),
		To:       req.ToNumber,
		Message:  req.Message,
	})
	if err != nil {
		h.deps.Logger.Error(c.Request.Context(), "enqueue failed", "device_id", deviceID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occured during message send api.")
		return
	}

	respond(c, http.StatusOK, true, "Successful send message!", gin.H{
		"to_number": req.ToNumber,
		"message":   req.Message,
	})
}

// SendBulk queues one job per recipient, spaced BulkDelay apart.
func (h *WhatsAppHandler) SendBulk(c *gin.Context) {
	var req sendBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	device := h.connectedDevice(c, req.IDDevice)
	if device == nil {
		return
	}

	payloads := make([]queue.Payload, len(req.ToNumbers))
	for i, to := range req.ToNumbers {
		payloads[i] = queue.BulkSend{
			DeviceID: device.ID,
			UserID:   device.UserID,
			To:       to,
			Message:  req.Message,
			UseWeb:   true,
			Index:    i,
		}
	}

	ids, err := h.deps.Bulk.EnqueueBulk(c.Request.Context(), payloads, h.deps.BulkDelay)
	if err != nil {
		h.deps.Logger.Error(c.Request.Context(), "bulk enqueue failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occured during message send bulk.")
		return
	}

	respond(c, http.StatusOK, true, "Successful queue bulk message!", gin.H{
		"id_jobs": ids,
		"total":   len(ids),
	})
}
