package handlers

import (
	"net/http"
)

// HandleHealth handles GET /health
// @Summary     Health check endpoint
// @Description Returns OK if the service is running
// @Tags        health
// @Produce     text/plain
// @Success     200  {string}  string  "OK"
// @Router      /health [get]
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
