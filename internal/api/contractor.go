package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// Image types accepted by GET /facility/devices/{id}/images.
const (
	imageTypeSample = 0
	imageTypeCamera = 1
)

// authContext returns the contractor authorization set by contractorMiddleware.
func authContext(r *http.Request) access.AuthContext {
	ac, _ := access.FromContext(r.Context()) //nolint:errcheck // always set behind contractorMiddleware
	return ac
}

// handleFacilityCheck confirms a QR link and names its facility.
func (s *Server) handleFacilityCheck(w http.ResponseWriter, r *http.Request) {
	ac := authContext(r)
	f, err := s.catalog.GetFacilityForCustomer(r.Context(), ac.FacilityID, ac.CustomerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]string{
		"facility_name": f.Name,
		"prefecture":    f.Prefecture,
		"municipality":  f.Municipality,
	})
}

type facilityDevice struct {
	ID     int64         `json:"id"`
	Name   string        `json:"device_name"`
	Result review.Result `json:"result"`
}

// handleFacilityDevices lists the facility's devices with their latest
// review result. Unreviewed devices report INITIAL_STATE.
func (s *Server) handleFacilityDevices(w http.ResponseWriter, r *http.Request) {
	ac := authContext(r)
	devices, err := s.catalog.ListDevicesByFacility(r.Context(), ac.FacilityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(devices) == 0 {
		writeError(w, ErrDevicesNotFound)
		return
	}

	latest, err := s.reviews.LatestResults(r.Context(), ac.FacilityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]facilityDevice, 0, len(devices))
	for _, d := range devices {
		res := latest[d.ID]
		if res == review.NotUsed {
			res = review.InitialState
		}
		out = append(out, facilityDevice{ID: d.ID, Name: d.Name, Result: res})
	}
	writeData(w, http.StatusOK, "", map[string]any{"devices": out})
}

type connectionStatus struct {
	DeviceID         int64  `json:"device_id"`
	ConnectionStatus string `json:"connection_status"`
}

// handleFacilityConnectionStatus asks the customer's console for the
// connection status of every device at the facility.
func (s *Server) handleFacilityConnectionStatus(w http.ResponseWriter, r *http.Request) {
	ac := authContext(r)
	devices, err := s.catalog.ListDevicesByFacility(r.Context(), ac.FacilityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	creds, err := s.catalog.ConsoleCredentials(r.Context(), ac.CustomerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.console.Connect(r.Context(), creds)
	if err != nil {
		s.fail(w, r, consoleAuthError(err, creds))
		return
	}

	out := []connectionStatus{}
	if len(devices) > 0 {
		byConsoleID := make(map[string]int64, len(devices))
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			byConsoleID[d.ConsoleID] = d.ID
			ids = append(ids, d.ConsoleID)
		}

		statuses, err := session.DeviceStatuses(r.Context(), ids)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, st := range statuses {
			id, ok := byConsoleID[st.DeviceID]
			if !ok {
				continue
			}
			out = append(out, connectionStatus{DeviceID: id, ConnectionStatus: st.ConnectionStatus})
		}
	}
	writeData(w, http.StatusOK, "", map[string]any{"data": out})
}

// authorizedDevice parses {id} and checks the device belongs to the
// token's facility.
func (s *Server) authorizedDevice(r *http.Request) (*facility.Device, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, ErrDeviceNotFound
	}
	return s.gate.AuthorizeDevice(r.Context(), id, authContext(r))
}

// handleFacilityDeviceStatus reports a device's latest result and comment.
// A device with no reviews reports CONFIRMED with an empty comment.
func (s *Server) handleFacilityDeviceStatus(w http.ResponseWriter, r *http.Request) {
	d, err := s.authorizedDevice(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status, comment := review.Confirmed, ""
	latest, err := s.reviews.LatestForDevice(r.Context(), d.ID, d.FacilityID)
	switch {
	case err == nil:
		status, comment = latest.Result, latest.Comment
	case !errors.Is(err, review.ErrReviewNotFound):
		s.fail(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", map[string]any{
		"status":         status,
		"review_comment": comment,
	})
}

type deviceImages struct {
	DeviceID      int64  `json:"device_id"`
	DeviceImage   string `json:"device_image,omitempty"`
	SampleImage   string `json:"sample_image,omitempty"`
	RetrievedDate string `json:"retrieved_date"`
	Comment       string `json:"comment"`
}

// handleFacilityDeviceImages returns either the device's live camera image
// (image_type=1) or its device type's sample image with the latest
// rejection comment (image_type=0, the default).
func (s *Server) handleFacilityDeviceImages(w http.ResponseWriter, r *http.Request) {
	d, err := s.authorizedDevice(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	imageType := imageTypeSample
	if v := r.URL.Query().Get("image_type"); v != "" {
		if imageType, err = strconv.Atoi(v); err != nil {
			writeError(w, ErrValueError.withMessage("image_type should be an integer"))
			return
		}
	}

	out := deviceImages{DeviceID: d.ID, RetrievedDate: s.now().UTC().Format(time.RFC3339)}

	switch imageType {
	case imageTypeCamera:
		creds, err := s.catalog.ConsoleCredentials(r.Context(), authContext(r).CustomerID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		session, err := s.console.Connect(r.Context(), creds)
		if err != nil {
			s.fail(w, r, consoleAuthError(err, creds))
			return
		}
		img, err := session.LatestImage(r.Context(), d.ConsoleID)
		if err != nil {
			if errors.Is(err, console.ErrRequestFailed) {
				err = errors.Join(ErrDeviceImageFetchFail, err)
			}
			s.fail(w, r, err)
			return
		}
		out.DeviceImage = img

	case imageTypeSample:
		dt, err := s.catalog.GetDeviceType(r.Context(), d.DeviceTypeID)
		if err != nil {
			s.fail(w, r, errors.Join(ErrDeviceSampleImageFail, err))
			return
		}
		out.SampleImage = dt.SampleImage

		rejected, err := s.reviews.LatestRejected(r.Context(), d.ID, d.FacilityID)
		switch {
		case err == nil:
			out.Comment = rejected.Comment
		case !errors.Is(err, review.ErrReviewNotFound):
			s.fail(w, r, errors.Join(ErrDeviceSampleImageFail, err))
			return
		}

	default:
		writeError(w, ErrImageTypeNotFound)
		return
	}

	writeData(w, http.StatusOK, "", out)
}

// consoleAuthError picks the enterprise variant of a token failure when
// the customer authenticates with an application ID.
func consoleAuthError(err error, creds facility.ConsoleCredentials) error {
	if errors.Is(err, console.ErrAuthFailed) && creds.ApplicationID != "" {
		return errors.Join(ErrInvalidAuthTokenEnterprise, err)
	}
	return err
}

type submitReviewRequest struct {
	DeviceID int64  `json:"device_id"`
	Image    string `json:"image"`
}

// handleSubmitReview records a contractor's photo for a device. Resubmitting
// while a review is outstanding returns the outstanding review.
func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.DeviceID <= 0 {
		writeError(w, ErrInvalidDeviceID)
		return
	}
	if req.Image == "" {
		writeError(w, missing("image"))
		return
	}

	ac := authContext(r)
	if _, err := s.gate.AuthorizeDevice(r.Context(), req.DeviceID, ac); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.machine.Submit(r.Context(), review.SubmitRequest{
		DeviceID:   req.DeviceID,
		FacilityID: ac.FacilityID,
		CustomerID: ac.CustomerID,
		Image:      req.Image,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	data := map[string]int64{"review_id": res.ReviewID}
	if !res.Created {
		writeData(w, http.StatusOK, "Review already exists", data)
		return
	}
	writeData(w, http.StatusCreated, "Create successfully", data)
}
