package handlers

import (
	"net/http"
	"strconv"

	"screen-service/internal/models"
	"screen-service/internal/session"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DeviceHandler serves the polling, frame fetch and input routes used by
// device firmware.
type DeviceHandler struct {
	orch   *session.Orchestrator
	logger *zap.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(orch *session.Orchestrator, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		orch:   orch,
		logger: logger,
	}
}

// HandleState handles GET /devices/{device_id}/state
// @Summary     Poll for the next action
// @Description Device heartbeat. Answers NOOP, FETCH_FRAME or SLEEP with a poll hint.
// @Tags        devices
// @Produce     json
// @Security    BearerAuth
// @Param       device_id      path   string  true   "Device ID"
// @Param       last_frame_id  query  string  false  "Frame currently shown by the device"
// @Param       last_event_id  query  string  false  "Last input event id seen by the device"
// @Success     200  {object}  models.DeviceState
// @Failure     401  {object}  map[string]string
// @Failure     403  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /devices/{device_id}/state [get]
func (h *DeviceHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	state, err := h.orch.Poll(r.Context(), deviceID, r.URL.Query().Get("last_frame_id"))
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusOK, state)
}

// HandleFrame handles GET /devices/{device_id}/frames/{frame_id}
// @Summary     Fetch frame bytes
// @Description Returns the stored PNG, or an empty octet-stream when the frame is gone or belongs to an instance not assigned to the device.
// @Tags        devices
// @Produce     image/png
// @Produce     application/octet-stream
// @Security    BearerAuth
// @Param       device_id  path  string  true  "Device ID"
// @Param       frame_id   path  string  true  "Frame ID"
// @Success     200
// @Failure     401  {object}  map[string]string
// @Router      /devices/{device_id}/frames/{frame_id} [get]
func (h *DeviceHandler) HandleFrame(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	frame, err := h.orch.GetFrame(r.Context(), vars["device_id"], vars["frame_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	if frame == nil {
		h.logger.Debug("Frame not found", zap.String("device_id", vars["device_id"]), zap.String("frame_id", vars["frame_id"]))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.Header().Set("X-Frame-Hash", frame.Hash)
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}

// HandleInput handles POST /devices/{device_id}/inputs
// @Summary     Submit a button event
// @Description Records the event and routes it without waiting for the backend.
// @Tags        devices
// @Accept      json
// @Security    BearerAuth
// @Param       device_id  path  string             true  "Device ID"
// @Param       body       body  models.InputEvent  true  "Input event"
// @Success     202
// @Failure     400  {object}  map[string]string
// @Failure     401  {object}  map[string]string
// @Failure     403  {object}  map[string]string
// @Router      /devices/{device_id}/inputs [post]
func (h *DeviceHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var event models.InputEvent
	if err := decodeJSON(r, &event, false); err != nil {
		sendError(w, h.logger, err)
		return
	}

	if err := h.orch.SubmitInput(r.Context(), mux.Vars(r)["device_id"], event); err != nil {
		sendError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
