// Package auth provides admin authentication and resource authorisation.
//
// Admins log in with a login ID and password (Argon2id) and receive an
// HS256 session token signed with the application signing key. Logout
// records the session ID as revoked until the token would have expired.
//
// The ResourceAuthorizer confirms that an admin owns a customer, facility,
// device or review by walking admin → customer → facility → device/review.
// It is separate from the contractor token gate in package access.
package auth
