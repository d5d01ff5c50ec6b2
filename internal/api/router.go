package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeError(w, ErrURLNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeError(w, ErrMethodNotAllowed) })

	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	// Contractor routes: facility access token from the QR link.
	r.Group(func(r chi.Router) {
		r.Use(s.contractorMiddleware)

		r.Post("/auth/facility", s.handleFacilityCheck)
		r.Get("/facility/devices", s.handleFacilityDevices)
		r.Get("/facility/devices/connection-status", s.handleFacilityConnectionStatus)
		r.Get("/facility/devices/{id}/status", s.handleFacilityDeviceStatus)
		r.Get("/facility/devices/{id}/images", s.handleFacilityDeviceImages)
		r.Post("/reviews", s.handleSubmitReview)
	})

	// Admin routes: session token from /auth/login.
	r.Group(func(r chi.Router) {
		r.Use(s.adminMiddleware)

		r.Post("/auth/logout", s.handleLogout)
		r.Post("/auth/ws-ticket", s.handleWSTicket)
		r.Post("/admins", s.handleCreateAdmin)

		// Flat paths: POST /reviews belongs to the contractor group, and a
		// mounted /reviews subrouter would shadow it.
		r.Get("/reviews/latest", s.handleLatestReviews)
		r.Get("/reviews/devices/{id}/history", s.handleReviewHistory)
		r.Get("/reviews/{id}", s.handleGetReview)
		r.Put("/reviews/{id}", s.handleDecideReview)

		r.Get("/customers", s.handleListCustomers)
		r.Post("/customers/qr-codes", s.handleExportQRCodes)
		r.Get("/customers/{id}/console_credentials", s.handleGetConsoleCredentials)
		r.Put("/customers/{id}/console_credentials", s.handleUpdateConsoleCredentials)

		r.Get("/facility-types", s.handleListFacilityTypes)
		r.Post("/facility-types", s.handleCreateFacilityType)
		r.Put("/device-types/{id}/reference-image", s.handleUpdateReferenceImage)

		r.Get("/facilities", s.handleListFacilities)
		r.Get("/facilities/{id}", s.handleGetFacility)
		r.Post("/facilities/{id}", s.handleSaveFacility)
		r.Get("/facilities/{id}/access", s.handleFacilityAccess)

		r.Get("/devices/status", s.handleDeviceConnectionStatus)
		r.Get("/audit-logs", s.handleListAuditLogs)
	})

	// WebSocket (auth via ticket, validated in handler)
	r.Get(s.wsPath(), s.handleWebSocket)

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "", map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
