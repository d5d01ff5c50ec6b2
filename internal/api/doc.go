// Package api implements the HTTP API and live review feed.
//
// Two audiences share one router:
//   - contractors, authenticated by the facility access token carried in
//     the QR link, list a facility's devices and submit review photos
//   - admins, authenticated by a session token from POST /auth/login,
//     decide reviews, manage facilities and export QR codes
//
// Every JSON response uses the same envelope (status_code, error_code,
// message, data). Error codes come from a fixed table in errors.go and
// domain errors are mapped onto it in one place.
//
// # Live feed
//
// Admins exchange their session token for a single-use ticket
// (POST /auth/ws-ticket) and open a WebSocket with it. Review events for
// the admin's own customers are pushed on the "reviews" channel.
package api
