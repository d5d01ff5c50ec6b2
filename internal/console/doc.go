// Package console is a client for the external device console that owns
// the physical cameras.
//
// A customer's console is reached with OAuth client credentials stored
// (encrypted) on the customer record. The client fetches an access token,
// then lists device connection states or pulls the latest camera image.
// Timeouts and "warning" payloads from the console are retried.
//
// Callers must not hold a database transaction open across these calls.
package console
