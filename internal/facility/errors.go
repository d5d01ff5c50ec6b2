package facility

import "errors"

// Domain-specific errors for catalogue operations.
var (
	ErrCustomerNotFound     = errors.New("facility: customer not found")
	ErrFacilityNotFound     = errors.New("facility: facility not found")
	ErrFacilityTypeNotFound = errors.New("facility: facility type not found")
	ErrDeviceNotFound       = errors.New("facility: device not found")
	ErrDeviceTypeNotFound   = errors.New("facility: device type not found")

	ErrDuplicateCustomerName = errors.New("facility: customer name already exists")
	ErrDuplicateFacilityName = errors.New("facility: facility name already exists for customer")

	// ErrInvalidWindow is returned for unparsable or inverted effective windows.
	ErrInvalidWindow = errors.New("facility: invalid effective window")

	// ErrIncompleteCredentials is returned when a customer lacks console credentials.
	ErrIncompleteCredentials = errors.New("facility: console credentials incomplete")

	// ErrInvalidCredentialData is returned when stored credentials cannot be decrypted.
	ErrInvalidCredentialData = errors.New("facility: stored console credentials cannot be decrypted")
)
