package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/session"
	"github.com/gin-gonic/gin"
)

type DeviceHandler struct {
	deps Deps
}

type authRequest struct {
	IDDevice  string `json:"id_device" binding:"required"`
	UseNumber bool   `json:"use_number"`
}

// ownedDevice resolves a public device id to a device of the calling user.
// It writes the error response itself and returns nil on failure.
func ownedDevice(c *gin.Context, deps Deps, publicID string) *models.Device {
	ctx := c.Request.Context()
	userID, _ := UserIDFromContext(c)

	id, err := deps.IDs.Decode(publicID)
	if err != nil {
		fail(c, http.StatusNotFound, "Device does not exist!")
		return nil
	}

	device, err := deps.Repos.Devices(deps.DB).FindForUser(ctx, userID, id)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		fail(c, http.StatusNotFound, "Device does not exist!")
		return nil
	case err != nil:
		deps.Logger.Error(ctx, "device lookup failed", "device_id", id, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during get device.")
		return nil
	}
	return device
}

// Auth starts a session for the device and answers with its challenge, or
// with the connected status when stored credentials were enough.
func (h *DeviceHandler) Auth(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	device := ownedDevice(c, h.deps, req.IDDevice)
	if device == nil {
		return
	}

	if h.deps.Sessions.SessionExists(device.ID) {
		fail(c, http.StatusConflict, "The account already connected!")
		return
	}

	pending := session.NewPending()
	err := h.deps.Sessions.CreateSession(c.Request.Context(), session.CreateOptions{
		DeviceID:       device.ID,
		UsePairingCode: req.UseNumber,
		PhoneNumber:    device.PhoneNumber,
		Pending:        pending,
	})
	switch {
	case errors.Is(err, common.ErrSessionExists):
		fail(c, http.StatusConflict, "The account already connected!")
		return
	case errors.Is(err, session.ErrManagerClosed):
		fail(c, http.StatusServiceUnavailable, "The service is shutting down.")
		return
	case err != nil:
		h.deps.Logger.Error(c.Request.Context(), "create session failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during device authentication.")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.deps.AuthWait)
	defer cancel()

	res, err := pending.Wait(ctx)
	if err != nil {
		fail(c, http.StatusGatewayTimeout, "Timed out waiting for the device.")
		return
	}

	code := res.Code
	if code == 0 {
		code = http.StatusOK
	}
	var data any
	if len(res.Data) > 0 {
		data = res.Data
	}
	respond(c, code, res.OK, res.Message, data)
}

// Logout tears the device's session down and wipes its credentials.
func (h *DeviceHandler) Logout(c *gin.Context) {
	device := ownedDevice(c, h.deps, c.Param("idDevice"))
	if device == nil {
		return
	}

	err := h.deps.Sessions.DeleteSession(c.Request.Context(), device.ID)
	switch {
	case errors.Is(err, common.ErrSessionNotFound):
		fail(c, http.StatusConflict, "The account not connected!")
		return
	case errors.Is(err, session.ErrManagerClosed):
		fail(c, http.StatusServiceUnavailable, "The service is shutting down.")
		return
	case err != nil:
		h.deps.Logger.Error(c.Request.Context(), "delete session failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during device logout.")
		return
	}

	respond(c, http.StatusOK, true, "The device has been logged out!", nil)
}

type removalRequest struct {
	OTP string `json:"otp" binding:"required,len=6,numeric"`
}

// RequestRemoval mails a one-time code that confirms removing the device.
func (h *DeviceHandler) RequestRemoval(c *gin.Context) {
	device := ownedDevice(c, h.deps, c.Param("idDevice"))
	if device == nil {
		return
	}
	ctx := c.Request.Context()

	owner, err := h.deps.Repos.Devices(h.deps.DB).FindOwner(ctx, device.ID)
	if err != nil {
		h.deps.Logger.Error(ctx, "owner lookup failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during checking and sending email for delete device.")
		return
	}
	if err := h.deps.OTP.Issue(ctx, owner.Email, queue.OTPRemoveDevice); err != nil {
		h.deps.Logger.Error(ctx, "issuing otp failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during checking and sending email for delete device.")
		return
	}
	respond(c, http.StatusOK, true, "OTP sent to email successfully, please use OTP from email to delete the device!",
		gin.H{"email": owner.Email})
}

// ConfirmRemoval checks the code, then ends the device's session and wipes
// its credentials. The device row itself is left to the device owner's
// account management.
func (h *DeviceHandler) ConfirmRemoval(c *gin.Context) {
	var req removalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	device := ownedDevice(c, h.deps, c.Param("idDevice"))
	if device == nil {
		return
	}
	ctx := c.Request.Context()

	owner, err := h.deps.Repos.Devices(h.deps.DB).FindOwner(ctx, device.ID)
	if err != nil {
		h.deps.Logger.Error(ctx, "owner lookup failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during delete device.")
		return
	}
	ok, err := h.deps.OTP.Verify(ctx, owner.Email, queue.OTPRemoveDevice, req.OTP)
	if err != nil {
		h.deps.Logger.Error(ctx, "verifying otp failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during delete device.")
		return
	}
	if !ok {
		fail(c, http.StatusUnauthorized, "Invalid OTP entered!")
		return
	}

	err = h.deps.Sessions.DeleteSession(ctx, device.ID)
	switch {
	case err == nil, errors.Is(err, common.ErrSessionNotFound):
	case errors.Is(err, session.ErrManagerClosed):
		fail(c, http.StatusServiceUnavailable, "The service is shutting down.")
		return
	default:
		h.deps.Logger.Error(ctx, "delete session failed", "device_id", device.ID, "error", err)
		fail(c, http.StatusInternalServerError, "An error occurred during delete device.")
		return
	}

	respond(c, http.StatusOK, true, "Delete device successfully!",
		gin.H{"phone_number": device.PhoneNumber, "name": device.Name})
}
