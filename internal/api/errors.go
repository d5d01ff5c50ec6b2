package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/database"
	"github.com/nerrad567/facility-review-core/internal/provisioning"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  int    `json:"error_code"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

// Error is one entry of the fixed error code table. Codes are part of the
// client contract: never renumber an entry, only append.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// withMessage returns a copy of e carrying msg.
func (e Error) withMessage(msg string) Error {
	e.Message = msg
	return e
}

// 400 client errors.
var (
	ErrInvalidFacilityID      = Error{http.StatusBadRequest, 40001, "Facility ID is invalid or not provided"}
	ErrInvalidDeviceID        = Error{http.StatusBadRequest, 40002, "Device ID is invalid or not provided"}
	ErrInvalidCustomerID      = Error{http.StatusBadRequest, 40003, "Customer ID is invalid or not provided"}
	ErrInvalidInput           = Error{http.StatusBadRequest, 40004, "Invalid input"}
	ErrTypeError              = Error{http.StatusBadRequest, 40005, "Type error"}
	ErrValueError             = Error{http.StatusBadRequest, 40006, "Value error"}
	ErrRejectWithoutComment   = Error{http.StatusBadRequest, 40007, "When review is rejected, please write comment"}
	ErrSchemaValidationFailed = Error{http.StatusBadRequest, 40008, "Schema validation failed"}
	ErrParameterMissing       = Error{http.StatusBadRequest, 40009, "Parameter is required"}
	ErrUnexpectedParams       = Error{http.StatusBadRequest, 40010, "Unexpected parameters received"}
	ErrDuplicateFacilityName  = Error{http.StatusBadRequest, 40011, "Facility name already exists for the customer"}
	ErrInvalidDeviceTypeID    = Error{http.StatusBadRequest, 40012, "Device Type ID is invalid or not provided"}
	ErrInvalidFile            = Error{http.StatusBadRequest, 40013, "File is invalid or not provided"}
	ErrInvalidJSONFormat      = Error{http.StatusBadRequest, 40014, "Invalid JSON format"}
	ErrDuplicateCustomerName  = Error{http.StatusBadRequest, 40015, "Customer name already exists"}
	ErrAdminAlreadyExists     = Error{http.StatusBadRequest, 40016, "Admin with this login_id already exists."}
)

// 401 authentication errors.
var (
	ErrInvalidAuthHeader        = Error{http.StatusUnauthorized, 40101, "Invalid authorization header format"}
	ErrTokenNotYetValid         = Error{http.StatusUnauthorized, 40102, "Token is not yet valid"}
	ErrTokenExpired             = Error{http.StatusUnauthorized, 40103, "Authorization token has expired"}
	ErrInvalidToken             = Error{http.StatusUnauthorized, 40104, "Invalid authorization token"}
	ErrInvalidFacility          = Error{http.StatusUnauthorized, 40105, "Invalid facility"}
	ErrInvalidFieldsInToken     = Error{http.StatusUnauthorized, 40106, "Unexpected fields in token"}
	ErrLoginFailed              = Error{http.StatusUnauthorized, 40107, "Username or password is incorrect"}
	ErrInvalidFacilityStartDate = Error{http.StatusUnauthorized, 40108, "Invalid start date in the auth token"}
)

// 403 authorization errors.
var (
	ErrPermissionDenied           = Error{http.StatusForbidden, 40301, "Permission denied"}
	ErrReviewCreationError        = Error{http.StatusForbidden, 40302, "New review cannot be created as the device already has the approved review"}
	ErrReviewApproveFailed        = Error{http.StatusForbidden, 40303, "Review approval failed as the current review is not the latest one."}
	ErrReviewRejectFailed         = Error{http.StatusForbidden, 40304, "Review rejection failed as the current review is not the latest one."}
	ErrInvalidAuthToken           = Error{http.StatusForbidden, 40305, "Invalid Auth token URL / Client ID / Client secret provided"}
	ErrInvalidAuthTokenEnterprise = Error{http.StatusForbidden, 40306, "Invalid Auth token URL / Client ID / Client secret / Application ID provided"}
	ErrInvalidBaseURL             = Error{http.StatusForbidden, 40307, "Invalid Base URL"}
	ErrConsoleVerificationFailed  = Error{http.StatusForbidden, 40308, "Console credentials verification failed"}
	ErrInvalidClientID            = Error{http.StatusForbidden, 40309, "Invalid Client ID provided"}
	ErrInvalidClientSecret        = Error{http.StatusForbidden, 40310, "Invalid Client Secret provided"}
)

// 404 not found errors.
var (
	ErrFacilityNotFound     = Error{http.StatusNotFound, 40401, "Facility not found"}
	ErrResourceNotFound     = Error{http.StatusNotFound, 40402, "Resource not found"}
	ErrDeviceNotFound       = Error{http.StatusNotFound, 40403, "Device not found"}
	ErrReviewNotFound       = Error{http.StatusNotFound, 40404, "Review not found"}
	ErrDevicesNotFound      = Error{http.StatusNotFound, 40405, "Devices not found"}
	ErrImageTypeNotFound    = Error{http.StatusNotFound, 40406, "Image type not found"}
	ErrCustomerNotFound     = Error{http.StatusNotFound, 40407, "Customer not found"}
	ErrInvalidStartTime     = Error{http.StatusNotFound, 40408, "start_time not valid."}
	ErrInvalidExpiry        = Error{http.StatusNotFound, 40409, "exp not valid."}
	ErrURLNotFound          = Error{http.StatusNotFound, 40410, "URL not found"}
	ErrDeviceTypeNotFound   = Error{http.StatusNotFound, 40411, "Device type not found"}
	ErrFacilityTypeNotFound = Error{http.StatusNotFound, 40412, "Facility type not found"}
	ErrAdminNotFound        = Error{http.StatusNotFound, 40413, "Admin not found"}
)

// 405.
var ErrMethodNotAllowed = Error{http.StatusMethodNotAllowed, 40501, "Method not allowed"}

// 5xx server errors.
var (
	ErrCameraIssue               = Error{http.StatusInternalServerError, 50001, "Something is wrong with camera device"}
	ErrRuntimeError              = Error{http.StatusInternalServerError, 50002, "Runtime error occurred"}
	ErrReviewCreationFailed      = Error{http.StatusInternalServerError, 50003, "Failed to create review"}
	ErrReviewUpdateFailed        = Error{http.StatusInternalServerError, 50004, "Failed to update review"}
	ErrDeviceStatusFail          = Error{http.StatusInternalServerError, 50005, "Failed to get device status"}
	ErrDeviceImageFetchFail      = Error{http.StatusInternalServerError, 50006, "Failed to fetch device image"}
	ErrDeviceSampleImageFail     = Error{http.StatusInternalServerError, 50007, "Failed to fetch device sample image"}
	ErrAttributeError            = Error{http.StatusInternalServerError, 50008, "Attribute error occurred"}
	ErrUnexpectedError           = Error{http.StatusInternalServerError, 50009, "An unexpected error occurred"}
	ErrReviewImageLoadFailed     = Error{http.StatusInternalServerError, 50010, "Failed to load review image"}
	ErrInvalidConsoleCredentials = Error{http.StatusInternalServerError, 50011, "Invalid console credentials found"}
	ErrInternalServerError       = Error{http.StatusInternalServerError, 50012, "An internal server error occurred"}
	ErrInvalidCredentialData     = Error{http.StatusInternalServerError, 50013, "Console credential decryption error, Invalid encrypted values found."}
	ErrDeviceNotFoundInConsole   = Error{http.StatusInternalServerError, 50014, "Console cannot find the device ID"}
	ErrReviewDeleteFailed        = Error{http.StatusInternalServerError, 50015, "Failed to delete reviews."}
	ErrDeviceUpdateFailed        = Error{http.StatusInternalServerError, 50016, "Failed to update devices"}
	ErrServiceUnavailable        = Error{http.StatusServiceUnavailable, 50301, "Service unavailable due to connection error"}
	ErrRequestTimeout            = Error{http.StatusGatewayTimeout, 50401, "Request timed out"}
)

// sentinelCodes maps domain sentinels to their table entry. Checked in
// order with errors.Is, so wrapped errors resolve to the innermost match
// listed first.
var sentinelCodes = []struct {
	err  error
	code Error
}{
	{access.ErrInvalidAuthHeader, ErrInvalidAuthHeader},
	{access.ErrTokenNotYetValid, ErrTokenNotYetValid},
	{access.ErrTokenExpired, ErrTokenExpired},
	{access.ErrInvalidToken, ErrInvalidToken},
	{access.ErrInvalidFacility, ErrInvalidFacility},
	{access.ErrInvalidFieldsInToken, ErrInvalidFieldsInToken},
	{access.ErrPermissionDenied, ErrPermissionDenied},

	{auth.ErrInvalidCredentials, ErrLoginFailed},
	{auth.ErrTokenExpired, ErrTokenExpired},
	{auth.ErrTokenRevoked, ErrInvalidToken},
	{auth.ErrTokenInvalid, ErrInvalidToken},
	{auth.ErrPermissionDenied, ErrPermissionDenied},
	{auth.ErrAdminNotFound, ErrAdminNotFound},
	{auth.ErrAdminExists, ErrAdminAlreadyExists},
	{auth.ErrInvalidLoginID, ErrInvalidInput},

	{review.ErrReviewNotFound, ErrReviewNotFound},
	{review.ErrApprovedLocked, ErrReviewCreationError},
	{review.ErrRejectWithoutComment, ErrRejectWithoutComment},
	{review.ErrInvalidDecision, ErrValueError},
	{review.ErrCommentTooLong, ErrValueError},
	{review.ErrInvalidStatusFilter, ErrValueError},
	{review.ErrApproveStale, ErrReviewApproveFailed},
	{review.ErrRejectStale, ErrReviewRejectFailed},
	{review.ErrTransactionTimeout, ErrRequestTimeout},
	{review.ErrCreationFailed, ErrReviewCreationFailed},
	{review.ErrUpdateFailed, ErrReviewUpdateFailed},

	{facility.ErrCustomerNotFound, ErrCustomerNotFound},
	{facility.ErrFacilityNotFound, ErrFacilityNotFound},
	{facility.ErrFacilityTypeNotFound, ErrFacilityTypeNotFound},
	{facility.ErrDeviceNotFound, ErrDeviceNotFound},
	{facility.ErrDeviceTypeNotFound, ErrDeviceTypeNotFound},
	{facility.ErrDuplicateCustomerName, ErrDuplicateCustomerName},
	{facility.ErrDuplicateFacilityName, ErrDuplicateFacilityName},
	{facility.ErrInvalidWindow, ErrValueError},
	{facility.ErrIncompleteCredentials, ErrInvalidConsoleCredentials},
	{facility.ErrInvalidCredentialData, ErrInvalidCredentialData},

	{provisioning.ErrUnparsableWindow, ErrValueError},

	{console.ErrInvalidClientID, ErrInvalidClientID},
	{console.ErrInvalidClientSecret, ErrInvalidClientSecret},
	{console.ErrAuthFailed, ErrInvalidAuthToken},
	{console.ErrInvalidBaseURL, ErrInvalidBaseURL},
	{console.ErrDeviceUnknown, ErrDeviceNotFoundInConsole},
	{console.ErrCameraUnavailable, ErrCameraIssue},
	{console.ErrVerificationFailed, ErrConsoleVerificationFailed},
	{console.ErrRequestFailed, ErrServiceUnavailable},

	{database.ErrTxTimeout, ErrRequestTimeout},
}

// errorFor resolves err to its table entry. Unknown errors become
// ErrUnexpectedError.
func errorFor(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var pm *access.ParameterMissingError
	if errors.As(err, &pm) {
		return missing(pm.Field)
	}
	for _, m := range sentinelCodes {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return ErrUnexpectedError
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, status int, message string, data any) {
	if message == "" {
		message = "Successfully"
	}
	writeJSON(w, status, Envelope{StatusCode: status, Message: message, Data: data})
}

// writeError writes the error envelope for e.
func writeError(w http.ResponseWriter, e Error) {
	writeJSON(w, e.Status, Envelope{StatusCode: e.Status, ErrorCode: e.Code, Message: e.Message})
}

// fail resolves err and writes it. Server-side failures are logged with the
// full error; the client only sees the table message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := errorFor(err)
	if e.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error_code", e.Code,
			"error", err,
			"request_id", requestID(r.Context()),
		)
	} else {
		s.logger.Debug("request rejected",
			"path", r.URL.Path,
			"error_code", e.Code,
			"error", err,
		)
	}
	writeError(w, e)
}
