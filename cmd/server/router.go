package main

import (
	"net/http"
	"time"

	_ "screen-service/docs"
	"screen-service/internal/auth"
	"screen-service/internal/cache"
	"screen-service/internal/handlers"
	"screen-service/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// RouterDeps groups what SetupRouter wires together
type RouterDeps struct {
	DeviceAuth *handlers.DeviceAuthHandler
	Devices    *handlers.DeviceHandler
	Instances  *handlers.InstanceHandler
	Admin      *handlers.AdminHandler
	JWKS       *handlers.JWKSHandler
	Auth       *middleware.Authenticator
	Cache      cache.Cache

	AuthRateLimit     int
	AuthRateWindow    time.Duration
	TrustProxyHeaders bool
}

// SetupRouter configures and returns the HTTP router with all routes and middleware
func SetupRouter(d RouterDeps, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recover(logger))

	// Add CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Add logging middleware
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", handlers.HandleHealth).Methods("GET")
	router.HandleFunc("/.well-known/jwks.json", d.JWKS.HandleJWKS).Methods("GET", "OPTIONS")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	// Device authentication
	limit := middleware.RateLimitMiddleware(d.Cache, logger, d.AuthRateLimit, d.AuthRateWindow, d.TrustProxyHeaders)
	access := d.Auth.Device(auth.KindDeviceAccess)

	authRoutes := router.PathPrefix("/auth/devices").Subrouter()
	authRoutes.Handle("/register", limit(http.HandlerFunc(d.DeviceAuth.HandleRegister))).Methods("POST", "OPTIONS")
	authRoutes.Handle("/token", limit(http.HandlerFunc(d.DeviceAuth.HandleToken))).Methods("POST", "OPTIONS")
	authRoutes.Handle("/refresh", d.Auth.Device(auth.KindDeviceRefresh)(http.HandlerFunc(d.DeviceAuth.HandleRefresh))).Methods("POST", "OPTIONS")
	authRoutes.Handle("/renew-refresh", access(http.HandlerFunc(d.DeviceAuth.HandleRenewRefresh))).Methods("POST", "OPTIONS")
	authRoutes.Handle("/status", access(http.HandlerFunc(d.DeviceAuth.HandleStatus))).Methods("GET", "OPTIONS")

	// Device protocol
	deviceRoutes := router.PathPrefix("/devices/{device_id}").Subrouter()
	deviceRoutes.Use(access)
	deviceRoutes.HandleFunc("/state", d.Devices.HandleState).Methods("GET")
	deviceRoutes.HandleFunc("/frames/{frame_id}", d.Devices.HandleFrame).Methods("GET")
	deviceRoutes.HandleFunc("/inputs", d.Devices.HandleInput).Methods("POST")

	// Backend callbacks
	instanceRoutes := router.PathPrefix("/instances/{instance_id}").Subrouter()
	instanceRoutes.Use(d.Auth.Instance)
	instanceRoutes.HandleFunc("/frames", d.Instances.HandleFrameUpload).Methods("POST")
	instanceRoutes.HandleFunc("/notify", d.Instances.HandleNotify).Methods("POST")
	instanceRoutes.HandleFunc("/inputs", d.Instances.HandleInputEcho).Methods("POST")

	// Admin
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(d.Auth.Admin)
	admin.HandleFunc("/status", d.Admin.HandleStatus).Methods("GET")

	admin.HandleFunc("/backend-types", d.Admin.HandleListTypes).Methods("GET")
	admin.HandleFunc("/backend-types", d.Admin.HandleCreateType).Methods("POST")
	admin.HandleFunc("/backend-types/{type_id}", d.Admin.HandleGetType).Methods("GET")
	admin.HandleFunc("/backend-types/{type_id}", d.Admin.HandleUpdateType).Methods("PATCH")
	admin.HandleFunc("/backend-types/{type_id}", d.Admin.HandleDeleteType).Methods("DELETE")

	admin.HandleFunc("/instances", d.Admin.HandleListInstances).Methods("GET")
	admin.HandleFunc("/instances", d.Admin.HandleCreateInstance).Methods("POST")
	admin.HandleFunc("/instances/{instance_id}", d.Admin.HandleGetInstance).Methods("GET")
	admin.HandleFunc("/instances/{instance_id}", d.Admin.HandleUpdateInstance).Methods("PATCH")
	admin.HandleFunc("/instances/{instance_id}", d.Admin.HandleDeleteInstance).Methods("DELETE")
	admin.HandleFunc("/instances/{instance_id}/initialize", d.Admin.HandleInitialize).Methods("POST")
	admin.HandleFunc("/instances/{instance_id}/refresh-status", d.Admin.HandleRefreshStatus).Methods("POST")
	admin.HandleFunc("/instances/{instance_id}/token", d.Admin.HandleIssueToken).Methods("POST")
	admin.HandleFunc("/instances/{instance_id}/render", d.Admin.HandleRender).Methods("POST")
	admin.HandleFunc("/instances/{instance_id}/frame-status", d.Admin.HandleFrameStatus).Methods("GET")
	admin.HandleFunc("/instances/{instance_id}/sync-frame", d.Admin.HandleSyncFrame).Methods("POST")

	// pending must be registered before {device_id}
	admin.HandleFunc("/devices", d.Admin.HandleListDevices).Methods("GET")
	admin.HandleFunc("/devices/pending", d.Admin.HandleListPending).Methods("GET")
	admin.HandleFunc("/devices/{device_id}", d.Admin.HandleGetDevice).Methods("GET")
	admin.HandleFunc("/devices/{device_id}/authorize", d.Admin.HandleAuthorize).Methods("POST")
	admin.HandleFunc("/devices/{device_id}/reject", d.Admin.HandleReject).Methods("POST")
	admin.HandleFunc("/devices/{device_id}/revoke", d.Admin.HandleRevoke).Methods("POST")
	admin.HandleFunc("/devices/{device_id}/reauthorize", d.Admin.HandleReauthorize).Methods("POST")
	admin.HandleFunc("/devices/{device_id}/assign-instance", d.Admin.HandleAssign).Methods("POST")
	admin.HandleFunc("/devices/{device_id}/instances/{instance_id}", d.Admin.HandleUnassign).Methods("DELETE")
	admin.HandleFunc("/devices/{device_id}/set-active-instance", d.Admin.HandleSetActive).Methods("POST")

	return router
}
