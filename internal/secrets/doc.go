// Package secrets derives the application's key material from a single secret.
//
// The signing key feeds the contractor token codec and admin session tokens;
// the encryption key seals customer console credentials at rest. Keys are
// derived with HKDF-SHA256 under separate labels so one never doubles as the
// other.
package secrets
