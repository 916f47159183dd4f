// Package backend talks to the instance backends that render content.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"screen-service/internal/metrics"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every outbound call when none is configured
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a backend response is read
const maxBodySize = 1 << 20

// Client is the set of calls made to one backend. Failures are
// *errors.ServiceError values coded BACKEND_UNAVAILABLE or
// BACKEND_PROTOCOL_ERROR.
type Client interface {
	Init(ctx context.Context, instanceID string, display models.DisplayConfig, accessToken string) (*models.BackendInitResponse, error)
	Delete(ctx context.Context, instanceID string) error
	Status(ctx context.Context, instanceID string) (*models.BackendStatus, error)
	FrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error)
	RequestFrameSend(ctx context.Context, instanceID string) (*models.BackendFrameSendResponse, error)
	ForwardInput(ctx context.Context, instanceID string, event models.InputEvent) error
	TriggerRender(ctx context.Context, instanceID string) error
}

// Factory builds the client for a backend type
type Factory interface {
	ForType(bt *models.BackendType) Client
}

// HTTPFactory creates HTTP clients that share one connection pool
type HTTPFactory struct {
	httpClient   *http.Client
	callbackBase string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewHTTPFactory creates a factory. callbackBase is this service's public
// URL, used to build the callback URLs handed to backends at init.
func NewHTTPFactory(callbackBase string, timeout time.Duration, logger *zap.Logger) *HTTPFactory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFactory{
		httpClient:   &http.Client{},
		callbackBase: strings.TrimRight(callbackBase, "/"),
		timeout:      timeout,
		logger:       logger,
	}
}

// ForType returns a client for bt
func (f *HTTPFactory) ForType(bt *models.BackendType) Client {
	return &HTTPClient{
		http:         f.httpClient,
		baseURL:      strings.TrimRight(bt.BaseURL, "/"),
		authToken:    bt.AuthToken,
		callbackBase: f.callbackBase,
		timeout:      f.timeout,
		logger:       f.logger.With(zap.String("backend_type", bt.TypeID)),
	}
}

// HTTPClient is the Client for one backend type. No call is retried.
type HTTPClient struct {
	http         *http.Client
	baseURL      string
	authToken    string
	callbackBase string
	timeout      time.Duration
	logger       *zap.Logger
}

// Callbacks returns the URLs a backend uses to reach this service for instanceID
func (c *HTTPClient) Callbacks(instanceID string) models.BackendCallbacks {
	base := c.callbackBase + "/instances/" + instanceID
	return models.BackendCallbacks{
		Frames: base + "/frames",
		Inputs: base + "/inputs",
		Notify: base + "/notify",
	}
}

// Init registers the instance with its backend. Only a 200 carrying
// status "initialized" counts as success.
func (c *HTTPClient) Init(ctx context.Context, instanceID string, display models.DisplayConfig, accessToken string) (*models.BackendInitResponse, error) {
	req := models.BackendInitRequest{
		InstanceID:  instanceID,
		Callbacks:   c.Callbacks(instanceID),
		Display:     display,
		AccessToken: accessToken,
	}

	status, body, err := c.call(ctx, "init", http.MethodPost, "/instances/init", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.unexpectedStatus("init", status, body)
	}

	var resp models.BackendInitResponse
	if err := c.decode("init", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "initialized" {
		return nil, errors.Newf(errors.ErrBackendProtocol, "Unexpected status: %s", resp.Status)
	}
	if !resp.NeedsConfiguration {
		resp.ConfigurationURL = ""
	}
	return &resp, nil
}

// Delete tells the backend the instance is gone. A 404 means it already is.
func (c *HTTPClient) Delete(ctx context.Context, instanceID string) error {
	status, body, err := c.call(ctx, "delete", http.MethodDelete, "/instances/"+instanceID, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.unexpectedStatus("delete", status, body)
	}
}

// Status fetches readiness and configuration state
func (c *HTTPClient) Status(ctx context.Context, instanceID string) (*models.BackendStatus, error) {
	status, body, err := c.call(ctx, "status", http.MethodGet, "/instances/"+instanceID+"/status", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.unexpectedStatus("status", status, body)
	}

	var resp models.BackendStatus
	if err := c.decode("status", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FrameMetadata describes the backend's current frame. A 404 is reported as
// HasFrame=false.
func (c *HTTPClient) FrameMetadata(ctx context.Context, instanceID string) (*models.BackendFrameMetadata, error) {
	status, body, err := c.call(ctx, "frame_metadata", http.MethodGet, "/instances/"+instanceID+"/frame", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return &models.BackendFrameMetadata{InstanceID: instanceID, HasFrame: false}, nil
	default:
		return nil, c.unexpectedStatus("frame_metadata", status, body)
	}

	var resp models.BackendFrameMetadata
	if err := c.decode("frame_metadata", body, &resp); err != nil {
		return nil, err
	}
	if resp.InstanceID == "" {
		resp.InstanceID = instanceID
	}
	return &resp, nil
}

// RequestFrameSend asks the backend to POST its current frame to the frames
// callback.
func (c *HTTPClient) RequestFrameSend(ctx context.Context, instanceID string) (*models.BackendFrameSendResponse, error) {
	status, body, err := c.call(ctx, "frame_send", http.MethodPost, "/instances/"+instanceID+"/frame/send", nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.New(errors.ErrBackendProtocol, "Instance not found on backend")
	default:
		return nil, c.unexpectedStatus("frame_send", status, body)
	}

	var resp models.BackendFrameSendResponse
	if err := c.decode("frame_send", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForwardInput relays a device input event verbatim
func (c *HTTPClient) ForwardInput(ctx context.Context, instanceID string, event models.InputEvent) error {
	status, body, err := c.call(ctx, "forward_input", http.MethodPost, "/instances/"+instanceID+"/inputs", event)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return c.unexpectedStatus("forward_input", status, body)
	}
	return nil
}

// TriggerRender asks the backend to render now
func (c *HTTPClient) TriggerRender(ctx context.Context, instanceID string) error {
	status, body, err := c.call(ctx, "render", http.MethodPost, "/instances/"+instanceID+"/render", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return c.unexpectedStatus("render", status, body)
	}
	return nil
}

// call performs one bounded round trip and returns the status code and body.
// Transport failures come back as BACKEND_UNAVAILABLE.
func (c *HTTPClient) call(ctx context.Context, op, method, path string, payload any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, errors.Wrap(err, errors.ErrInternalServer)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrBackendUnavailable)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendCall(op, "unavailable", time.Since(start).Seconds())
		if isTimeout(err) {
			c.logger.Error("Timeout connecting to backend",
				zap.String("operation", op),
				zap.String("url", req.URL.String()),
				zap.Duration("timeout", c.timeout),
			)
			return 0, nil, errors.Wrap(err, errors.New(errors.ErrBackendUnavailable, "Timeout connecting to backend"))
		}
		c.logger.Error("Connection error",
			zap.String("operation", op),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return 0, nil, errors.Wrap(err, errors.New(errors.ErrBackendUnavailable, "Connection error"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.BackendCall(op, "unavailable", time.Since(start).Seconds())
		return 0, nil, errors.Wrap(err, errors.New(errors.ErrBackendUnavailable, "Connection error"))
	}

	metrics.BackendCall(op, fmt.Sprintf("%d", resp.StatusCode), time.Since(start).Seconds())
	return resp.StatusCode, body, nil
}

func (c *HTTPClient) decode(op string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		c.logger.Warn("Undecodable backend response", zap.String("operation", op), zap.Error(err))
		return errors.Wrap(err, errors.New(errors.ErrBackendProtocol, "Undecodable backend response"))
	}
	return nil
}

func (c *HTTPClient) unexpectedStatus(op string, status int, body []byte) error {
	c.logger.Warn("Unexpected backend status",
		zap.String("operation", op),
		zap.Int("status", status),
		zap.ByteString("body", truncate(body, 256)),
	)
	return errors.Newf(errors.ErrBackendProtocol, "backend returned status %d", status)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
