package handlers

import (
	"io"
	"net/http"

	"screen-service/internal/middleware"
	"screen-service/internal/models"
	"screen-service/internal/session"
	"screen-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MaxFrameSize bounds a frame upload
const MaxFrameSize = 8 << 20

// InstanceHandler serves the callback routes backends call
type InstanceHandler struct {
	orch   *session.Orchestrator
	logger *zap.Logger
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(orch *session.Orchestrator, logger *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		orch:   orch,
		logger: logger,
	}
}

// HandleFrameUpload handles POST /instances/{instance_id}/frames
// @Summary     Submit a rendered frame
// @Description Stores the PNG and points every device showing the instance at it. Identical content is not stored twice.
// @Tags        instances
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Param       file         formData  file    true  "PNG image"
// @Success     201  {object}  models.FrameCreateResponse
// @Failure     400  {object}  map[string]string
// @Failure     401  {object}  map[string]string
// @Failure     413  {object}  map[string]string
// @Router      /instances/{instance_id}/frames [post]
func (h *InstanceHandler) HandleFrameUpload(w http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instance_id"]

	r.Body = http.MaxBytesReader(w, r.Body, MaxFrameSize+1<<16)
	file, _, err := r.FormFile("file")
	if err != nil {
		sendError(w, h.logger, errors.New(errors.ErrInvalidRequest, "Multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxFrameSize+1))
	if err != nil {
		sendError(w, h.logger, errors.New(errors.ErrInvalidRequest, "Failed to read frame upload"))
		return
	}
	if len(data) > MaxFrameSize {
		sendError(w, h.logger, errors.New(errors.ErrInvalidRequest, "Frame exceeds maximum size"))
		return
	}

	frame, err := h.orch.SubmitFrame(r.Context(), instanceID, data)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	sendJSON(w, http.StatusCreated, models.FrameCreateResponse{
		FrameID:   frame.FrameID,
		Hash:      frame.Hash,
		CreatedAt: frame.CreatedAt,
	})
}

// HandleNotify handles POST /instances/{instance_id}/notify
// @Summary     Signal a state change
// @Description The backend's frame is requested in the background.
// @Tags        instances
// @Security    BearerAuth
// @Param       instance_id  path  string  true  "Instance ID"
// @Success     202
// @Failure     401  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /instances/{instance_id}/notify [post]
func (h *InstanceHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Notify(r.Context(), mux.Vars(r)["instance_id"]); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleInputEcho handles POST /instances/{instance_id}/inputs
// @Summary     Accept a forwarded input event
// @Description Mirrors the inputs call made to backends. The event is validated and acknowledged.
// @Tags        instances
// @Accept      json
// @Security    BearerAuth
// @Param       instance_id  path  string             true  "Instance ID"
// @Param       body         body  models.InputEvent  true  "Input event"
// @Success     200
// @Failure     400  {object}  map[string]string
// @Failure     401  {object}  map[string]string
// @Router      /instances/{instance_id}/inputs [post]
func (h *InstanceHandler) HandleInputEcho(w http.ResponseWriter, r *http.Request) {
	var event models.InputEvent
	if err := decodeJSON(r, &event, false); err != nil {
		sendError(w, h.logger, err)
		return
	}

	fields := []zap.Field{
		zap.String("instance_id", mux.Vars(r)["instance_id"]),
		zap.String("button", string(event.Button)),
		zap.String("event_type", string(event.EventType)),
	}
	if cred, ok := middleware.CredentialFromContext(r.Context()); ok {
		fields = append(fields, zap.String("credential", string(cred.Kind)))
	}
	h.logger.Debug("Input echo received", fields...)

	w.WriteHeader(http.StatusOK)
}
