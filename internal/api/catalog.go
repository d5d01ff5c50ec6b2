package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/provisioning"
)

// handleListCustomers lists the admin's customers.
func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.catalog.ListCustomersByAdmin(r.Context(), principal(r).AdminID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Data retrieved successfully", map[string]any{
		"data":  customers,
		"total": len(customers),
	})
}

// handleListFacilities lists a customer's facilities.
func (s *Server) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(r.URL.Query().Get("customer_id"), 10, 64)
	if err != nil || customerID <= 0 {
		writeError(w, ErrInvalidCustomerID)
		return
	}
	if err := s.authorize(r, auth.ResourceRef{CustomerID: &customerID}); err != nil {
		s.fail(w, r, err)
		return
	}

	facilities, err := s.catalog.ListFacilities(r.Context(), customerID, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Facilities retrieved successfully", map[string]any{
		"facilities": facilities,
		"total":      len(facilities),
	})
}

// authorizedFacilityID parses {id} and checks the admin owns the facility.
func (s *Server) authorizedFacilityID(r *http.Request) (int64, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrFacilityNotFound
	}
	if err := s.authorize(r, auth.ResourceRef{FacilityID: &id}); err != nil {
		return 0, err
	}
	return id, nil
}

// handleGetFacility returns one facility.
func (s *Server) handleGetFacility(w http.ResponseWriter, r *http.Request) {
	id, err := s.authorizedFacilityID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.catalog.GetFacility(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", f)
}

type saveFacilityRequest struct {
	CustomerID     int64  `json:"customer_id"`
	FacilityTypeID *int64 `json:"facility_type_id"`
	Name           string `json:"facility_name"`
	Prefecture     string `json:"prefecture"`
	Municipality   string `json:"municipality"`
	EffectiveStart string `json:"effective_start_utc"`
	EffectiveEnd   string `json:"effective_end_utc"`
}

// handleSaveFacility creates a facility when {id} is 0 and updates it
// otherwise. Changing the effective window takes effect on the next
// contractor request: tokens outside the new window stop working.
func (s *Server) handleSaveFacility(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if id < 0 {
		writeError(w, ErrFacilityNotFound)
		return
	}

	var req saveFacilityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case req.CustomerID <= 0:
		writeError(w, ErrInvalidCustomerID)
		return
	case strings.TrimSpace(req.Name) == "":
		writeError(w, missing("facility_name"))
		return
	case req.EffectiveStart == "":
		writeError(w, missing("effective_start_utc"))
		return
	case req.EffectiveEnd == "":
		writeError(w, missing("effective_end_utc"))
		return
	}

	// The facility and its target customer are checked separately so an
	// admin may move a facility between their own customers.
	if id > 0 {
		if err := s.authorize(r, auth.ResourceRef{FacilityID: &id}); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if err := s.authorize(r, auth.ResourceRef{CustomerID: &req.CustomerID}); err != nil {
		s.fail(w, r, err)
		return
	}

	f := &facility.Facility{
		ID:             id,
		CustomerID:     req.CustomerID,
		FacilityTypeID: req.FacilityTypeID,
		Name:           strings.TrimSpace(req.Name),
		Prefecture:     req.Prefecture,
		Municipality:   req.Municipality,
		EffectiveStart: req.EffectiveStart,
		EffectiveEnd:   req.EffectiveEnd,
	}

	action, message := "update", "Facility updated successfully"
	if id == 0 {
		action, message = "create", "Facility created successfully"
		err = s.catalog.CreateFacility(r.Context(), f)
	} else {
		err = s.catalog.UpdateFacility(r.Context(), f)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     action,
		EntityType: "facility",
		EntityID:   strconv.FormatInt(f.ID, 10),
		AdminID:    principal(r).AdminID,
		Source:     "api",
		Details: map[string]any{
			"customer_id":         f.CustomerID,
			"facility_name":       f.Name,
			"effective_start_utc": f.EffectiveStart,
			"effective_end_utc":   f.EffectiveEnd,
		},
	})
	writeData(w, http.StatusOK, message, f)
}

// handleFacilityAccess provisions a facility's current access token and
// contractor URL.
func (s *Server) handleFacilityAccess(w http.ResponseWriter, r *http.Request) {
	id, err := s.authorizedFacilityID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.catalog.GetFacility(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.qr.Provision(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", p)
}

// deviceStatusParams are the query parameters GET /devices/status accepts.
var deviceStatusParams = map[string]bool{
	"customer_id":   true,
	"facility_name": true,
	"prefecture":    true,
	"municipality":  true,
	"page":          true,
	"page_size":     true,
	"status":        true,
}

// handleDeviceConnectionStatus lists console connection status for a page
// of a customer's devices, filtered like GET /reviews/latest.
func (s *Server) handleDeviceConnectionStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var unexpected []string
	for k := range q {
		if !deviceStatusParams[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		writeError(w, ErrUnexpectedParams.withMessage("Unexpected params: "+strings.Join(unexpected, ", ")))
		return
	}

	if !q.Has("customer_id") {
		writeError(w, ErrParameterMissing.withMessage("`customer_id` query parameter is required"))
		return
	}
	customerID, err := strconv.ParseInt(q.Get("customer_id"), 10, 64)
	if err != nil {
		writeError(w, ErrValueError)
		return
	}
	if err := s.authorize(r, auth.ResourceRef{CustomerID: &customerID}); err != nil {
		s.fail(w, r, err)
		return
	}

	lq, err := s.latestQuery(r, customerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.reviews.ListLatest(r.Context(), lq, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	creds, err := s.catalog.ConsoleCredentials(r.Context(), customerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.console.Connect(r.Context(), creds)
	if err != nil {
		s.fail(w, r, errors.Join(ErrInvalidConsoleCredentials, err))
		return
	}

	statuses := []console.DeviceStatus{}
	if len(page.Entries) > 0 {
		ids := make([]string, 0, len(page.Entries))
		for _, e := range page.Entries {
			ids = append(ids, e.Device.ConsoleID)
		}
		statuses, err = session.DeviceStatuses(r.Context(), ids)
		if errors.Is(err, console.ErrInvalidBaseURL) {
			err = errors.Join(ErrInvalidConsoleCredentials, err)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	writeData(w, http.StatusOK, "", pageResult{
		Data:     statuses,
		Page:     lq.Page,
		PageSize: lq.PageSize,
		Size:     len(statuses),
		Total:    page.Total,
	})
}

// referenceImagePrefix is prepended to bare base64 reference images.
const referenceImagePrefix = "data:image/jpeg;base64,"

// maxFacilityTypeName caps facility type names, in characters.
const maxFacilityTypeName = 127

// maskSecret hides all but the last four characters of a secret. Secrets
// of four characters or fewer are hidden entirely.
func maskSecret(secret string) string {
	r := []rune(secret)
	if len(r) <= 4 {
		return strings.Repeat("●", len(r))
	}
	return strings.Repeat("●", len(r)-4) + string(r[len(r)-4:])
}

type consoleCredentialsView struct {
	ID            int64  `json:"id"`
	CustomerName  string `json:"customer_name"`
	AuthURL       string `json:"auth_url"`
	BaseURL       string `json:"base_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	ApplicationID string `json:"application_id"`
}

// handleGetConsoleCredentials returns a customer's console credentials with
// the client secret masked.
func (s *Server) handleGetConsoleCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := s.authorizedCustomerID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	customer, err := s.catalog.GetCustomer(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	creds, err := s.catalog.StoredCredentials(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", consoleCredentialsView{
		ID:            customer.ID,
		CustomerName:  customer.Name,
		AuthURL:       creds.AuthURL,
		BaseURL:       creds.BaseURL,
		ClientID:      creds.ClientID,
		ClientSecret:  maskSecret(creds.ClientSecret),
		ApplicationID: creds.ApplicationID,
	})
}

type consoleCredentialsRequest struct {
	AuthURL       string `json:"auth_url"`
	BaseURL       string `json:"base_url"`
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret"`
	ApplicationID string `json:"application_id"`
}

// handleUpdateConsoleCredentials checks new console credentials against the
// console and stores them. Sending back the masked secret from GET keeps
// the stored one.
func (s *Server) handleUpdateConsoleCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := s.authorizedCustomerID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req consoleCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, f := range []struct{ name, value string }{
		{"auth_url", req.AuthURL},
		{"base_url", req.BaseURL},
		{"client_id", req.ClientID},
		{"client_secret", req.ClientSecret},
	} {
		if f.value == "" {
			writeError(w, missing(f.name))
			return
		}
	}

	stored, err := s.catalog.StoredCredentials(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	creds := facility.ConsoleCredentials{
		ClientID:      req.ClientID,
		ClientSecret:  req.ClientSecret,
		AuthURL:       req.AuthURL,
		BaseURL:       req.BaseURL,
		ApplicationID: req.ApplicationID,
	}
	if stored.ClientSecret != "" && req.ClientSecret == maskSecret(stored.ClientSecret) {
		creds.ClientSecret = stored.ClientSecret
	}

	if err := s.console.Verify(r.Context(), creds); err != nil {
		if errors.Is(err, console.ErrAuthFailed) && creds.ApplicationID != "" {
			err = errors.Join(ErrInvalidAuthTokenEnterprise, err)
		}
		s.fail(w, r, err)
		return
	}

	if err := s.catalog.UpdateConsoleCredentials(r.Context(), id, creds); err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "update_console_credentials",
		EntityType: "customer",
		EntityID:   strconv.FormatInt(id, 10),
		AdminID:    principal(r).AdminID,
		Source:     "api",
		Details: map[string]any{
			"auth_url": creds.AuthURL,
			"base_url": creds.BaseURL,
		},
	})
	writeData(w, http.StatusOK, "Successfully updated", nil)
}

// authorizedCustomerID parses {id} and checks the admin owns the customer.
func (s *Server) authorizedCustomerID(r *http.Request) (int64, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrCustomerNotFound
	}
	if err := s.authorize(r, auth.ResourceRef{CustomerID: &id}); err != nil {
		return 0, err
	}
	return id, nil
}

// handleListFacilityTypes lists the admin's facility types.
func (s *Server) handleListFacilityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.catalog.ListFacilityTypes(r.Context(), principal(r).AdminID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "Facility types retrieved successfully", map[string]any{
		"data":  types,
		"total": len(types),
	})
}

type createFacilityTypeRequest struct {
	Name string `json:"name"`
}

// handleCreateFacilityType adds a facility type for the admin.
func (s *Server) handleCreateFacilityType(w http.ResponseWriter, r *http.Request) {
	var req createFacilityTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		writeError(w, missing("name"))
		return
	case utf8.RuneCountInString(name) > maxFacilityTypeName:
		writeError(w, ErrValueError.withMessage(fmt.Sprintf("name must be at most %d characters", maxFacilityTypeName)))
		return
	}

	ft := &facility.FacilityType{Name: name, AdminID: principal(r).AdminID}
	if err := s.catalog.CreateFacilityType(r.Context(), ft); err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "create",
		EntityType: "facility_type",
		EntityID:   strconv.FormatInt(ft.ID, 10),
		AdminID:    ft.AdminID,
		Source:     "api",
		Details:    map[string]any{"name": ft.Name},
	})
	writeData(w, http.StatusCreated, "Facility type created", ft)
}

type referenceImageRequest struct {
	ReferenceImage string `json:"reference_image"`
}

// handleUpdateReferenceImage replaces a device type's reference image. A
// bare base64 payload gets the JPEG data URL prefix.
func (s *Server) handleUpdateReferenceImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req referenceImageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.catalog.GetDeviceType(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ReferenceImage == "" {
		writeError(w, ErrValueError.withMessage("reference_image must not be empty"))
		return
	}

	image := req.ReferenceImage
	if !strings.HasPrefix(image, referenceImagePrefix) {
		image = referenceImagePrefix + image
	}
	if err := s.catalog.UpdateSampleImage(r.Context(), id, image); err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "update_reference_image",
		EntityType: "device_type",
		EntityID:   strconv.FormatInt(id, 10),
		AdminID:    principal(r).AdminID,
		Source:     "api",
	})
	writeData(w, http.StatusOK, "Updated successfully", map[string]string{
		"message": "Reference image updated successfully",
	})
}

type exportRequest struct {
	Customers []provisioning.ExportRequest `json:"customers"`
}

// handleExportQRCodes returns a ZIP of QR codes for the requested
// customers. A customer with no facility_ids exports all its facilities.
func (s *Server) handleExportQRCodes(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Customers) == 0 {
		writeError(w, ErrInvalidCustomerID)
		return
	}

	for _, c := range req.Customers {
		customerID := c.CustomerID
		if len(c.FacilityIDs) == 0 {
			if err := s.authorize(r, auth.ResourceRef{CustomerID: &customerID}); err != nil {
				s.fail(w, r, err)
				return
			}
			continue
		}
		for _, fid := range c.FacilityIDs {
			facilityID := fid
			if err := s.authorize(r, auth.ResourceRef{CustomerID: &customerID, FacilityID: &facilityID}); err != nil {
				s.fail(w, r, err)
				return
			}
		}
	}

	// Buffered so a mid-export failure can still be reported as JSON.
	var buf bytes.Buffer
	sum, err := s.qr.Export(r.Context(), req.Customers, &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "export",
		EntityType: "qr_codes",
		AdminID:    principal(r).AdminID,
		Source:     "api",
		Details: map[string]any{
			"customers":  len(req.Customers),
			"facilities": sum.Facilities,
			"skipped":    sum.Skipped,
		},
	})

	name := fmt.Sprintf("qr_codes_%s.zip", s.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	buf.WriteTo(w)
}
