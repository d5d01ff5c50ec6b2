package facility

import (
	"fmt"
	"time"
)

// InitialState is the device result before any review is submitted.
const InitialState = 1

// Customer owns facilities and is owned by one admin.
type Customer struct {
	ID      int64  `json:"id"`
	Name    string `json:"customer_name"`
	AdminID int64  `json:"admin_id"`
}

// ConsoleCredentials are a customer's device-console API credentials in
// plaintext. They are encrypted at rest.
type ConsoleCredentials struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	BaseURL       string
	ApplicationID string
}

// Complete reports whether every credential needed for a console call is set.
// ApplicationID is optional.
func (c ConsoleCredentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.AuthURL != "" && c.BaseURL != ""
}

// FacilityType classifies facilities. Each admin keeps their own list.
type FacilityType struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	AdminID int64  `json:"admin_id"`
}

// Facility is a customer site. EffectiveStart and EffectiveEnd are kept as
// stored; use Window to parse them.
type Facility struct {
	ID             int64  `json:"id"`
	CustomerID     int64  `json:"customer_id"`
	FacilityTypeID *int64 `json:"facility_type_id"`
	Name           string `json:"facility_name"`
	Prefecture     string `json:"prefecture"`
	Municipality   string `json:"municipality"`
	EffectiveStart string `json:"effective_start_utc"`
	EffectiveEnd   string `json:"effective_end_utc"`
}

// Window parses the facility's effective window.
func (f *Facility) Window() (start, end time.Time, err error) {
	start, err = ParseTimestamp(f.EffectiveStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: effective_start_utc: %w", ErrInvalidWindow, err)
	}
	end, err = ParseTimestamp(f.EffectiveEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: effective_end_utc: %w", ErrInvalidWindow, err)
	}
	return start, end, nil
}

// timestampLayouts are tried in order. Timestamps without an offset are
// taken as UTC since the columns are UTC by definition.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a stored facility timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// DeviceType groups devices and carries the sample image shown to contractors.
type DeviceType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SampleImage string `json:"sample_image"`
}

// Device is a reviewable camera installed at a facility. ConsoleID is the
// identifier used by the external device console. Result mirrors the latest
// review outcome.
type Device struct {
	ID           int64  `json:"id"`
	ConsoleID    string `json:"device_id"`
	Name         string `json:"device_name"`
	FacilityID   int64  `json:"facility_id"`
	DeviceTypeID int64  `json:"device_type_id"`
	Result       int    `json:"result"`
}
