package handlers

import (
	"context"
	"net/http"
	"strconv"

	"screen-service/internal/models"
	"screen-service/internal/registry"
	"screen-service/internal/session"
	"screen-service/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const adminActor = "admin"

// AdminHandler serves the /admin JSON API
type AdminHandler struct {
	devices   *registry.DeviceRegistry
	instances *registry.InstanceRegistry
	orch      *session.Orchestrator
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	devices *registry.DeviceRegistry,
	instances *registry.InstanceRegistry,
	orch *session.Orchestrator,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		devices:   devices,
		instances: instances,
		orch:      orch,
		logger:    logger,
	}
}

// SystemStatus is the body of GET /admin/status
type SystemStatus struct {
	Status     string              `json:"status"`
	Statistics *models.SystemStats `json:"statistics"`
}

// Backend types

// HandleListTypes handles GET /admin/backend-types
// @Summary     List backend types
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       active_only  query  bool  false  "Only active types"
// @Success     200  {array}  models.BackendType
// @Router      /admin/backend-types [get]
func (h *AdminHandler) HandleListTypes(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))
	types, err := h.instances.ListTypes(r.Context(), activeOnly)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, types)
}

// HandleCreateType handles POST /admin/backend-types
// @Summary     Register a backend type
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       body  body      models.BackendTypeCreate  true  "Backend type"
// @Success     201   {object}  models.BackendType
// @Failure     400   {object}  map[string]string
// @Failure     409   {object}  map[string]string
// @Router      /admin/backend-types [post]
func (h *AdminHandler) HandleCreateType(w http.ResponseWriter, r *http.Request) {
	var req models.BackendTypeCreate
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	bt, err := h.instances.CreateType(r.Context(), req)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusCreated, bt)
}

// HandleGetType handles GET /admin/backend-types/{type_id}
// @Summary     Get a backend type
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       type_id  path      string  true  "Type ID"
// @Success     200      {object}  models.BackendType
// @Failure     404      {object}  map[string]string
// @Router      /admin/backend-types/{type_id} [get]
func (h *AdminHandler) HandleGetType(w http.ResponseWriter, r *http.Request) {
	bt, err := h.instances.GetType(r.Context(), mux.Vars(r)["type_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, bt)
}

// HandleUpdateType handles PATCH /admin/backend-types/{type_id}
// @Summary     Update a backend type
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       type_id  path      string                    true  "Type ID"
// @Param       body     body      models.BackendTypeUpdate  true  "Fields to change"
// @Success     200      {object}  models.BackendType
// @Failure     404      {object}  map[string]string
// @Router      /admin/backend-types/{type_id} [patch]
func (h *AdminHandler) HandleUpdateType(w http.ResponseWriter, r *http.Request) {
	var req models.BackendTypeUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	bt, err := h.instances.UpdateType(r.Context(), mux.Vars(r)["type_id"], req)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, bt)
}

// HandleDeleteType handles DELETE /admin/backend-types/{type_id}
// @Summary     Delete a backend type
// @Description Fails with 409 while instances reference the type.
// @Tags        admin
// @Security    AdminAuth
// @Param       type_id  path  string  true  "Type ID"
// @Success     204
// @Failure     404  {object}  map[string]string
// @Failure     409  {object}  map[string]string
// @Router      /admin/backend-types/{type_id} [delete]
func (h *AdminHandler) HandleDeleteType(w http.ResponseWriter, r *http.Request) {
	if err := h.instances.DeleteType(r.Context(), mux.Vars(r)["type_id"]); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Instances

// HandleListInstances handles GET /admin/instances
// @Summary     List instances
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       backend_type_id  query  string  false  "Filter by backend type"
// @Success     200  {array}  models.Instance
// @Router      /admin/instances [get]
func (h *AdminHandler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := h.instances.List(r.Context(), r.URL.Query().Get("backend_type_id"))
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, list)
}

// HandleCreateInstance handles POST /admin/instances
// @Summary     Create an instance
// @Description Creates the instance and, unless auto_initialize is false, initializes it with its backend. An initialization failure does not fail the create.
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       body  body      models.InstanceCreate  true  "Instance"
// @Success     201   {object}  models.Instance
// @Failure     400   {object}  map[string]string
// @Failure     404   {object}  map[string]string
// @Router      /admin/instances [post]
func (h *AdminHandler) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req models.InstanceCreate
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	inst, err := h.instances.Create(r.Context(), req)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusCreated, inst)
}

// HandleGetInstance handles GET /admin/instances/{instance_id}
// @Summary     Get an instance
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.Instance
// @Failure     404          {object}  map[string]string
// @Router      /admin/instances/{instance_id} [get]
func (h *AdminHandler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.instances.Get(r.Context(), mux.Vars(r)["instance_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, inst)
}

// HandleUpdateInstance handles PATCH /admin/instances/{instance_id}
// @Summary     Update an instance
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string                 true  "Instance ID"
// @Param       body         body      models.InstanceUpdate  true  "Fields to change"
// @Success     200          {object}  models.Instance
// @Failure     404          {object}  map[string]string
// @Router      /admin/instances/{instance_id} [patch]
func (h *AdminHandler) HandleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	var req models.InstanceUpdate
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	inst, err := h.instances.Update(r.Context(), mux.Vars(r)["instance_id"], req)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, inst)
}

// HandleDeleteInstance handles DELETE /admin/instances/{instance_id}
// @Summary     Delete an instance
// @Tags        admin
// @Security    AdminAuth
// @Param       instance_id  path  string  true  "Instance ID"
// @Success     204
// @Failure     404  {object}  map[string]string
// @Router      /admin/instances/{instance_id} [delete]
func (h *AdminHandler) HandleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.instances.Delete(r.Context(), mux.Vars(r)["instance_id"]); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInitialize handles POST /admin/instances/{instance_id}/initialize
// @Summary     Initialize an instance with its backend
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.Instance
// @Failure     404          {object}  map[string]string
// @Failure     502          {object}  map[string]string
// @Router      /admin/instances/{instance_id}/initialize [post]
func (h *AdminHandler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	h.instanceAction(w, r, h.instances.Initialize)
}

// HandleRefreshStatus handles POST /admin/instances/{instance_id}/refresh-status
// @Summary     Refresh readiness from the backend
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.Instance
// @Failure     404          {object}  map[string]string
// @Failure     502          {object}  map[string]string
// @Router      /admin/instances/{instance_id}/refresh-status [post]
func (h *AdminHandler) HandleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	h.instanceAction(w, r, h.instances.RefreshStatus)
}

func (h *AdminHandler) instanceAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*models.Instance, error)) {
	inst, err := fn(r.Context(), mux.Vars(r)["instance_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, inst)
}

// HandleIssueToken handles POST /admin/instances/{instance_id}/token
// @Summary     Mint an instance access token
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.InstanceToken
// @Failure     404          {object}  map[string]string
// @Router      /admin/instances/{instance_id}/token [post]
func (h *AdminHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.instances.IssueToken(r.Context(), mux.Vars(r)["instance_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, tok)
}

// HandleFrameStatus handles GET /admin/instances/{instance_id}/frame-status
// @Summary     Compare local and backend frames
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.FrameSyncResult
// @Failure     404          {object}  map[string]string
// @Router      /admin/instances/{instance_id}/frame-status [get]
func (h *AdminHandler) HandleFrameStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.CheckSync(r.Context(), mux.Vars(r)["instance_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

// HandleSyncFrame handles POST /admin/instances/{instance_id}/sync-frame
// @Summary     Force a frame sync
// @Description When frames differ the backend is asked to send its current frame.
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       instance_id  path      string  true  "Instance ID"
// @Success     200          {object}  models.FrameSyncResult
// @Failure     404          {object}  map[string]string
// @Router      /admin/instances/{instance_id}/sync-frame [post]
func (h *AdminHandler) HandleSyncFrame(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.ForceSync(r.Context(), mux.Vars(r)["instance_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

// HandleRender handles POST /admin/instances/{instance_id}/render
// @Summary     Trigger a backend render
// @Tags        admin
// @Security    AdminAuth
// @Param       instance_id  path  string  true  "Instance ID"
// @Success     202
// @Failure     404  {object}  map[string]string
// @Failure     502  {object}  map[string]string
// @Router      /admin/instances/{instance_id}/render [post]
func (h *AdminHandler) HandleRender(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Render(r.Context(), mux.Vars(r)["instance_id"]); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Devices

// HandleListDevices handles GET /admin/devices
// @Summary     List devices
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       status  query  string  false  "Filter by auth status"
// @Success     200  {array}  models.DeviceWithInstances
// @Router      /admin/devices [get]
func (h *AdminHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	status := models.AuthStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.AuthPending, models.AuthAuthorized, models.AuthRejected, models.AuthRevoked:
	default:
		sendError(w, h.logger, errors.Newf(errors.ErrInvalidRequest, "Unknown auth status '%s'", status))
		return
	}

	devices, err := h.devices.List(r.Context(), status)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	out := make([]models.DeviceWithInstances, 0, len(devices))
	for _, d := range devices {
		dw, err := h.withInstances(r.Context(), d)
		if err != nil {
			sendError(w, h.logger, err)
			return
		}
		out = append(out, *dw)
	}
	sendJSON(w, http.StatusOK, out)
}

// HandleListPending handles GET /admin/devices/pending
// @Summary     List devices awaiting authorization
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Success     200  {array}  models.Device
// @Router      /admin/devices/pending [get]
func (h *AdminHandler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListPending(r.Context())
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, devices)
}

// HandleGetDevice handles GET /admin/devices/{device_id}
// @Summary     Get a device
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string  true  "Device ID"
// @Success     200        {object}  models.DeviceWithInstances
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id} [get]
func (h *AdminHandler) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.Get(r.Context(), mux.Vars(r)["device_id"])
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	dw, err := h.withInstances(r.Context(), d)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, dw)
}

func (h *AdminHandler) withInstances(ctx context.Context, d *models.Device) (*models.DeviceWithInstances, error) {
	assigned, err := h.instances.Assigned(ctx, d.DeviceID)
	if err != nil {
		return nil, err
	}
	return &models.DeviceWithInstances{Device: d, AssignedInstances: assigned}, nil
}

type transitionFunc func(ctx context.Context, deviceID, actor string) (*models.Device, bool, error)

// HandleAuthorize handles POST /admin/devices/{device_id}/authorize
// @Summary     Authorize a device
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string  true  "Device ID"
// @Success     200        {object}  MessageResponse
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/authorize [post]
func (h *AdminHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.devices.Authorize, "Device authorized successfully", "Device already authorized")
}

// HandleReject handles POST /admin/devices/{device_id}/reject
// @Summary     Reject a device
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string  true  "Device ID"
// @Success     200        {object}  MessageResponse
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/reject [post]
func (h *AdminHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.devices.Reject, "Device rejected", "Device already rejected")
}

// HandleRevoke handles POST /admin/devices/{device_id}/revoke
// @Summary     Revoke a device
// @Description Invalidates the device's refresh token.
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string  true  "Device ID"
// @Success     200        {object}  MessageResponse
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/revoke [post]
func (h *AdminHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.devices.Revoke, "Device access revoked", "Device access already revoked")
}

// HandleReauthorize handles POST /admin/devices/{device_id}/reauthorize
// @Summary     Re-authorize a rejected or revoked device
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string  true  "Device ID"
// @Success     200        {object}  MessageResponse
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/reauthorize [post]
func (h *AdminHandler) HandleReauthorize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.devices.Reauthorize, "Device re-authorized successfully", "Device already authorized")
}

func (h *AdminHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc, done, unchanged string) {
	d, changed, err := fn(r.Context(), mux.Vars(r)["device_id"], adminActor)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	msg := done
	if !changed {
		msg = unchanged
	}
	sendJSON(w, http.StatusOK, MessageResponse{
		Message:    msg,
		DeviceID:   d.DeviceID,
		AuthStatus: string(d.AuthStatus),
	})
}

// HandleAssign handles POST /admin/devices/{device_id}/assign-instance
// @Summary     Assign an instance to a device
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string                        true  "Device ID"
// @Param       body       body      models.AssignInstanceRequest  true  "Assignment"
// @Success     200        {object}  MessageResponse
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/assign-instance [post]
func (h *AdminHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req models.AssignInstanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	added, err := h.instances.Assign(r.Context(), deviceID, req.InstanceID, req.Position)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}

	msg := "Instance assigned to device"
	if !added {
		msg = "Instance already assigned to device"
	}
	sendJSON(w, http.StatusOK, MessageResponse{Message: msg, DeviceID: deviceID})
}

// HandleUnassign handles DELETE /admin/devices/{device_id}/instances/{instance_id}
// @Summary     Remove an instance from a device
// @Tags        admin
// @Security    AdminAuth
// @Param       device_id    path  string  true  "Device ID"
// @Param       instance_id  path  string  true  "Instance ID"
// @Success     204
// @Failure     404  {object}  map[string]string
// @Router      /admin/devices/{device_id}/instances/{instance_id} [delete]
func (h *AdminHandler) HandleUnassign(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.instances.Unassign(r.Context(), vars["device_id"], vars["instance_id"]); err != nil {
		sendError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetActive handles POST /admin/devices/{device_id}/set-active-instance
// @Summary     Select the instance a device shows
// @Tags        admin
// @Accept      json
// @Produce     json
// @Security    AdminAuth
// @Param       device_id  path      string                           true  "Device ID"
// @Param       body       body      models.SetActiveInstanceRequest  true  "Instance"
// @Success     200        {object}  MessageResponse
// @Failure     400        {object}  map[string]string
// @Failure     404        {object}  map[string]string
// @Router      /admin/devices/{device_id}/set-active-instance [post]
func (h *AdminHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	var req models.SetActiveInstanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		sendError(w, h.logger, err)
		return
	}
	d, err := h.orch.SelectInstance(r.Context(), mux.Vars(r)["device_id"], req.InstanceID)
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, MessageResponse{Message: "Active instance updated", DeviceID: d.DeviceID})
}

// HandleStatus handles GET /admin/status
// @Summary     System statistics
// @Tags        admin
// @Produce     json
// @Security    AdminAuth
// @Success     200  {object}  SystemStatus
// @Router      /admin/status [get]
func (h *AdminHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.instances.Stats(r.Context())
	if err != nil {
		sendError(w, h.logger, err)
		return
	}
	sendJSON(w, http.StatusOK, SystemStatus{Status: "healthy", Statistics: stats})
}
