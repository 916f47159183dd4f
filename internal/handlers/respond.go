// Package handlers holds the HTTP handlers of the screen service.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"screen-service/pkg/errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// maxJSONBody caps request bodies that are decoded as JSON
const maxJSONBody = 1 << 20

var validate = validator.New()

// MessageResponse is the body of admin actions that only report an outcome
type MessageResponse struct {
	Message    string `json:"message"`
	DeviceID   string `json:"device_id,omitempty"`
	AuthStatus string `json:"auth_status,omitempty"`
}

func sendError(w http.ResponseWriter, logger *zap.Logger, err error) {
	se := errors.As(err)
	if se.Status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("code", se.Code), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             se.Code,
		"error_description": se.Message,
	})
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set, leaving dst at its zero value.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF && allowEmpty {
			return nil
		}
		return errors.New(errors.ErrInvalidRequest, "Malformed JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return errors.New(errors.ErrInvalidRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
		fe := ve[0]
		return fmt.Sprintf("Invalid %s: failed %s", fe.Namespace(), fe.Tag())
	}
	return "Invalid request body"
}
