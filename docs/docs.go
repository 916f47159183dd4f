// Package docs registers the OpenAPI document served under /swagger/.
// Regenerate with: swag init -g cmd/server/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {"get": {"tags": ["health"], "summary": "Health check endpoint", "produces": ["text/plain"], "responses": {"200": {"description": "OK"}}}},
        "/.well-known/jwks.json": {"get": {"tags": ["keys"], "summary": "Token verification keys", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/auth/devices/register": {"post": {"tags": ["device-auth"], "summary": "Register a device", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}}}},
        "/auth/devices/token": {"post": {"tags": ["device-auth"], "summary": "Obtain a refresh token", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "403": {"description": "Forbidden"}}}},
        "/auth/devices/refresh": {"post": {"security": [{"BearerAuth": []}], "tags": ["device-auth"], "summary": "Exchange a refresh token for an access token", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/auth/devices/renew-refresh": {"post": {"security": [{"BearerAuth": []}], "tags": ["device-auth"], "summary": "Renew the refresh token", "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/auth/devices/status": {"get": {"security": [{"BearerAuth": []}], "tags": ["device-auth"], "summary": "Current authorization status", "responses": {"200": {"description": "OK"}}}},
        "/devices/{device_id}/state": {"get": {"security": [{"BearerAuth": []}], "tags": ["devices"], "summary": "Poll for the next action", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}, {"type": "string", "name": "last_frame_id", "in": "query"}, {"type": "string", "name": "last_event_id", "in": "query"}], "responses": {"200": {"description": "OK"}}}},
        "/devices/{device_id}/frames/{frame_id}": {"get": {"security": [{"BearerAuth": []}], "tags": ["devices"], "summary": "Fetch frame bytes", "produces": ["image/png", "application/octet-stream"], "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}, {"type": "string", "name": "frame_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/devices/{device_id}/inputs": {"post": {"security": [{"BearerAuth": []}], "tags": ["devices"], "summary": "Submit a button event", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}}}},
        "/instances/{instance_id}/frames": {"post": {"security": [{"BearerAuth": []}], "tags": ["instances"], "summary": "Submit a rendered frame", "consumes": ["multipart/form-data"], "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}, {"type": "file", "name": "file", "in": "formData", "required": true}], "responses": {"201": {"description": "Created"}}}},
        "/instances/{instance_id}/notify": {"post": {"security": [{"BearerAuth": []}], "tags": ["instances"], "summary": "Signal a state change", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}}}},
        "/instances/{instance_id}/inputs": {"post": {"security": [{"BearerAuth": []}], "tags": ["instances"], "summary": "Accept a forwarded input event", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/status": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "System statistics", "responses": {"200": {"description": "OK"}}}},
        "/admin/backend-types": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "List backend types", "responses": {"200": {"description": "OK"}}}, "post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Register a backend type", "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}}},
        "/admin/backend-types/{type_id}": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Get a backend type", "parameters": [{"type": "string", "name": "type_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}, "patch": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Update a backend type", "parameters": [{"type": "string", "name": "type_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}, "delete": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Delete a backend type", "parameters": [{"type": "string", "name": "type_id", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}, "409": {"description": "Conflict"}}}},
        "/admin/instances": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "List instances", "responses": {"200": {"description": "OK"}}}, "post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Create an instance", "responses": {"201": {"description": "Created"}}}},
        "/admin/instances/{instance_id}": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Get an instance", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}, "patch": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Update an instance", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}, "delete": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Delete an instance", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}},
        "/admin/instances/{instance_id}/initialize": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Initialize an instance with its backend", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "502": {"description": "Bad Gateway"}}}},
        "/admin/instances/{instance_id}/refresh-status": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Refresh readiness from the backend", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/instances/{instance_id}/token": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Mint an instance access token", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/instances/{instance_id}/frame-status": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Compare local and backend frames", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/instances/{instance_id}/sync-frame": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Force a frame sync", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/instances/{instance_id}/render": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Trigger a backend render", "parameters": [{"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}, "502": {"description": "Bad Gateway"}}}},
        "/admin/devices": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "List devices", "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/pending": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "List devices awaiting authorization", "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}": {"get": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Get a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/authorize": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Authorize a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/reject": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Reject a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/revoke": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Revoke a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/reauthorize": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Re-authorize a rejected or revoked device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/assign-instance": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Assign an instance to a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/devices/{device_id}/instances/{instance_id}": {"delete": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Remove an instance from a device", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}, {"type": "string", "name": "instance_id", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}},
        "/admin/devices/{device_id}/set-active-instance": {"post": {"security": [{"AdminAuth": []}], "tags": ["admin"], "summary": "Select the instance a device shows", "parameters": [{"type": "string", "name": "device_id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}}
    },
    "securityDefinitions": {
        "AdminAuth": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Screen Service API",
	Description:      "Device authorization, frame delivery and input routing for low-power display devices.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
