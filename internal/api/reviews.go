package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// principal returns the admin set by adminMiddleware.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context()) //nolint:errcheck // always set behind adminMiddleware
	return p
}

// authorize runs the resource authorizer for the request's admin.
func (s *Server) authorize(r *http.Request, ref auth.ResourceRef) error {
	return s.authorizer.Authorize(r.Context(), principal(r), ref)
}

type latestResult struct {
	pageResult
	ReviewingInfo review.ReviewingInfo `json:"reviewing_info"`
	StatusCount   review.StatusCount   `json:"status_count"`
}

// handleLatestReviews lists a customer's devices with their latest review.
//
// Query parameters:
//   - customer_id: required
//   - status: comma-separated results; "01" selects NOT_USED and INITIAL_STATE
//   - facility_name: space-separated terms, all of which must match
//   - prefecture: comma-separated exact values
//   - municipality: substring match
//   - late_minutes: reviewing_info threshold (default 10)
//   - page, page_size
func (s *Server) handleLatestReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("customer_id")
	if raw == "" {
		writeError(w, ErrValueError.withMessage("customer_id is required"))
		return
	}
	customerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, ErrValueError.withMessage("customer_id should be an integer"))
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

	writeData(w, http.StatusOK, "", latestResult{
		pageResult: pageResult{
			Data:     page.Entries,
			Page:     lq.Page,
			PageSize: lq.PageSize,
			Size:     len(page.Entries),
			Total:    page.Total,
		},
		ReviewingInfo: page.ReviewingInfo,
		StatusCount:   page.StatusCount,
	})
}

// latestQuery reads the dashboard filters shared by the review listing
// and the admin device status listing.
func (s *Server) latestQuery(r *http.Request, customerID int64) (review.LatestQuery, error) {
	q := r.URL.Query()
	lq := review.LatestQuery{
		CustomerID:        customerID,
		FacilityNameTerms: strings.Fields(q.Get("facility_name")),
		Prefectures:       splitList(q.Get("prefecture")),
		Municipality:      strings.TrimSpace(q.Get("municipality")),
	}

	var err error
	if lq.Page, lq.PageSize, err = s.pagination(r); err != nil {
		return lq, err
	}
	if lq.Statuses, err = review.ParseStatusFilter(q.Get("status")); err != nil {
		return lq, err
	}
	if v := q.Get("late_minutes"); v != "" {
		if lq.LateMinutes, err = strconv.Atoi(v); err != nil {
			return lq, ErrValueError.withMessage("late_minutes should be an integer")
		}
	}
	return lq, nil
}

type historyResult struct {
	Reviews    []review.Review      `json:"reviews"`
	Device     *facility.Device     `json:"device"`
	DeviceType *facility.DeviceType `json:"device_type"`
	Size       int                  `json:"size"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
}

// handleReviewHistory returns one page of a device's reviews, newest first.
func (s *Server) handleReviewHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, auth.ResourceRef{DeviceID: &deviceID}); err != nil {
		s.fail(w, r, err)
		return
	}

	page, pageSize, err := s.pagination(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	reviews, total, err := s.reviews.History(r.Context(), deviceID, page, pageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	d, err := s.catalog.GetDevice(r.Context(), deviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dt, err := s.catalog.GetDeviceType(r.Context(), d.DeviceTypeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "", historyResult{
		Reviews:    reviews,
		Device:     d,
		DeviceType: dt,
		Size:       len(reviews),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
	})
}

type reviewDetail struct {
	*review.Review
	Device   *facility.Device   `json:"device"`
	Facility *facility.Facility `json:"facility"`
	Customer *facility.Customer `json:"customer"`
}

// handleGetReview returns a review with its device, facility and customer.
func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	reviewID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, auth.ResourceRef{ReviewID: &reviewID}); err != nil {
		s.fail(w, r, err)
		return
	}

	rv, err := s.reviews.Get(r.Context(), reviewID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := reviewDetail{Review: rv}
	if out.Device, err = s.catalog.GetDevice(r.Context(), rv.DeviceID); err != nil {
		s.fail(w, r, err)
		return
	}
	if out.Facility, err = s.catalog.GetFacility(r.Context(), rv.FacilityID); err != nil {
		s.fail(w, r, err)
		return
	}
	if out.Customer, err = s.catalog.GetCustomer(r.Context(), rv.CustomerID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", out)
}

type decideRequest struct {
	Result  review.Result `json:"result"`
	Comment string        `json:"comment"`
}

// handleDecideReview approves or rejects a review.
func (s *Server) handleDecideReview(w http.ResponseWriter, r *http.Request) {
	reviewID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.authorize(r, auth.ResourceRef{ReviewID: &reviewID}); err != nil {
		s.fail(w, r, err)
		return
	}

	var req decideRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.machine.Decide(r.Context(), review.DecideRequest{
		ReviewID: reviewID,
		Result:   req.Result,
		Comment:  req.Comment,
		AdminID:  principal(r).AdminID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]review.Result{"result": result})
}
