package console

import "errors"

var (
	// ErrInvalidClientID is returned when the auth server rejects the client ID.
	ErrInvalidClientID = errors.New("console: invalid client id")

	// ErrInvalidClientSecret is returned when the auth server rejects the client secret.
	ErrInvalidClientSecret = errors.New("console: invalid client secret")

	// ErrAuthFailed is returned when no access token could be obtained.
	ErrAuthFailed = errors.New("console: cannot obtain access token")

	// ErrInvalidBaseURL is returned when the console answers with something
	// that is not its JSON API.
	ErrInvalidBaseURL = errors.New("console: invalid base url")

	// ErrDeviceUnknown is returned when the console does not know a device ID.
	ErrDeviceUnknown = errors.New("console: device not found")

	// ErrCameraUnavailable is returned when retries are exhausted without an image.
	ErrCameraUnavailable = errors.New("console: camera unavailable")

	// ErrVerificationFailed is returned by Verify when the console answers
	// but the credentials do not reach any device.
	ErrVerificationFailed = errors.New("console: credential verification failed")

	// ErrRequestFailed wraps any other transport or HTTP failure.
	ErrRequestFailed = errors.New("console: request failed")
)

// errRetry marks a failure worth another attempt.
var errRetry = errors.New("console: retryable")
