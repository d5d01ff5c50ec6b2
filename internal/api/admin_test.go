package api

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/review"
)

// submit files a contractor review for the fixture device and returns its ID.
func (e *testEnv) submit(t *testing.T) int64 {
	t.Helper()
	body := map[string]any{"device_id": e.deviceID, "image": "data:image/jpeg;base64,AAAA"}
	w := e.do(t, http.MethodPost, "/reviews", e.contractorToken, body)
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("submit status = %d; body: %s", w.Code, w.Body.String())
	}
	env := envelopeOf(t, w)
	var data map[string]int64
	decodeData(t, env, &data)
	return data["review_id"]
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	t.Run("success", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{"login_id": adminLogin, "password": adminPassword})
		env := expect(t, w, http.StatusOK, 0)
		var data loginResponse
		decodeData(t, env, &data)
		if data.Token == "" || data.LoginID != adminLogin || data.ID != strconv.FormatInt(e.adminID, 10) {
			t.Errorf("login data = %+v", data)
		}

		// The issued token opens the admin routes.
		expect(t, e.do(t, http.MethodGet, "/customers", data.Token, nil), http.StatusOK, 0)
	})

	tests := []struct {
		name      string
		body      any
		status    int
		errorCode int
	}{
		{"wrong password", map[string]string{"login_id": adminLogin, "password": "nope"}, http.StatusUnauthorized, 40107},
		{"unknown admin", map[string]string{"login_id": "ghost", "password": adminPassword}, http.StatusUnauthorized, 40107},
		{"missing password", map[string]string{"login_id": adminLogin}, http.StatusBadRequest, 40009},
		{"missing login", map[string]string{"password": adminPassword}, http.StatusBadRequest, 40009},
		{"empty body", "", http.StatusBadRequest, 40014},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodPost, "/auth/login", "", tt.body), tt.status, tt.errorCode)
		})
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	e := newTestEnv(t)

	expect(t, e.do(t, http.MethodGet, "/customers", e.adminToken, nil), http.StatusOK, 0)
	env := expect(t, e.do(t, http.MethodPost, "/auth/logout", e.adminToken, nil), http.StatusOK, 0)
	if env.Message != "Logout successfully" {
		t.Errorf("message = %q", env.Message)
	}
	expect(t, e.do(t, http.MethodGet, "/customers", e.adminToken, nil), http.StatusUnauthorized, 40104)
}

func TestAdminRoutes_RequireSession(t *testing.T) {
	e := newTestEnv(t)

	expect(t, e.do(t, http.MethodGet, "/customers", "", nil), http.StatusUnauthorized, 40104)
	// A contractor token is not an admin session.
	if w := e.do(t, http.MethodGet, "/customers", e.contractorToken, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("contractor token status = %d, want 401", w.Code)
	}
}

func TestDecideReview_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	first := e.submit(t)
	put := func(id int64, result review.Result, comment string) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPut, fmt.Sprintf("/reviews/%d", id), e.adminToken,
			map[string]any{"result": result, "comment": comment})
	}

	env := expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/reviews/%d", first), e.adminToken, nil), http.StatusOK, 0)
	var detail struct {
		ID       int64              `json:"id"`
		Result   review.Result      `json:"result"`
		Device   *facility.Device   `json:"device"`
		Facility *facility.Facility `json:"facility"`
		Customer *facility.Customer `json:"customer"`
	}
	decodeData(t, env, &detail)
	if detail.ID != first || detail.Result != review.RequestingForReview {
		t.Errorf("review = %+v", detail)
	}
	if detail.Device == nil || detail.Device.ID != e.deviceID || detail.Facility == nil || detail.Customer == nil {
		t.Errorf("review relations = %+v", detail)
	}

	expect(t, put(first, review.Rejected, "  "), http.StatusBadRequest, 40007)
	expect(t, put(first, review.RequestingForReview, ""), http.StatusBadRequest, 40006)
	expect(t, put(first, review.Rejected, strings.Repeat("x", review.MaxCommentLength+1)), http.StatusBadRequest, 40006)

	env = expect(t, put(first, review.Rejected, "Lens is dirty"), http.StatusOK, 0)
	var decided map[string]review.Result
	decodeData(t, env, &decided)
	if decided["result"] != review.Rejected {
		t.Errorf("result = %v, want REJECTED", decided["result"])
	}

	// The contractor sees the rejection comment next to the sample image.
	env = expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/facility/devices/%d/images", e.deviceID), e.contractorToken, nil), http.StatusOK, 0)
	var images deviceImages
	decodeData(t, env, &images)
	if images.Comment != "Lens is dirty" {
		t.Errorf("comment = %q, want rejection comment", images.Comment)
	}

	second := e.submit(t)
	if second == first {
		t.Fatal("resubmission after rejection reused the rejected review")
	}

	// The first review is no longer the latest in the chain.
	expect(t, put(first, review.Approved, ""), http.StatusForbidden, 40303)
	expect(t, put(first, review.Rejected, "late"), http.StatusForbidden, 40304)

	expect(t, put(second, review.Approved, ""), http.StatusOK, 0)

	// Approved chains accept no further submissions.
	body := map[string]any{"device_id": e.deviceID, "image": "data:image/jpeg;base64,AAAA"}
	expect(t, e.do(t, http.MethodPost, "/reviews", e.contractorToken, body), http.StatusForbidden, 40302)
}

func TestReviews_OtherAdminDenied(t *testing.T) {
	e := newTestEnv(t)
	id := e.submit(t)

	path := fmt.Sprintf("/reviews/%d", id)
	expect(t, e.do(t, http.MethodGet, path, e.otherAdminToken, nil), http.StatusForbidden, 40301)
	expect(t, e.do(t, http.MethodPut, path, e.otherAdminToken, map[string]any{"result": review.Approved}), http.StatusForbidden, 40301)
	expect(t, e.do(t, http.MethodGet, "/reviews/999999", e.adminToken, nil), http.StatusNotFound, 40404)
	expect(t, e.do(t, http.MethodGet, "/reviews/abc", e.adminToken, nil), http.StatusBadRequest, 40006)
}

func TestLatestReviews(t *testing.T) {
	e := newTestEnv(t)
	e.submit(t)

	env := expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/reviews/latest?customer_id=%d", e.customerID), e.adminToken, nil), http.StatusOK, 0)
	var data struct {
		Data []struct {
			Device       review.DeviceSummary `json:"device"`
			LatestReview *review.Review       `json:"latest_review"`
		} `json:"data"`
		Page          int                  `json:"page"`
		PageSize      int                  `json:"page_size"`
		Total         int                  `json:"total"`
		ReviewingInfo review.ReviewingInfo `json:"reviewing_info"`
		StatusCount   review.StatusCount   `json:"status_count"`
	}
	decodeData(t, env, &data)
	if data.Total != 1 || len(data.Data) != 1 {
		t.Fatalf("total = %d, entries = %d; want 1", data.Total, len(data.Data))
	}
	if data.Page != 1 || data.PageSize != defaultPageSize {
		t.Errorf("page = %d, page_size = %d", data.Page, data.PageSize)
	}
	if data.Data[0].LatestReview == nil || data.Data[0].LatestReview.Result != review.RequestingForReview {
		t.Errorf("latest review = %+v", data.Data[0].LatestReview)
	}
	if data.StatusCount.Requesting != 1 || data.ReviewingInfo.Current != 1 {
		t.Errorf("status_count = %+v, reviewing_info = %+v", data.StatusCount, data.ReviewingInfo)
	}

	tests := []struct {
		name      string
		query     string
		token     string
		status    int
		errorCode int
	}{
		{"missing customer", "", e.adminToken, http.StatusBadRequest, 40006},
		{"non-integer customer", "customer_id=abc", e.adminToken, http.StatusBadRequest, 40006},
		{"bad status", fmt.Sprintf("customer_id=%d&status=x", e.customerID), e.adminToken, http.StatusBadRequest, 40006},
		{"bad page", fmt.Sprintf("customer_id=%d&page=x", e.customerID), e.adminToken, http.StatusBadRequest, 40006},
		{"other admin", fmt.Sprintf("customer_id=%d", e.customerID), e.otherAdminToken, http.StatusForbidden, 40301},
		{"unknown customer", "customer_id=999999", e.adminToken, http.StatusNotFound, 40407},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodGet, "/reviews/latest?"+tt.query, tt.token, nil), tt.status, tt.errorCode)
		})
	}
}

func TestReviewHistory(t *testing.T) {
	e := newTestEnv(t)
	first := e.submit(t)
	expect(t, e.do(t, http.MethodPut, fmt.Sprintf("/reviews/%d", first), e.adminToken,
		map[string]any{"result": review.Rejected, "comment": "blurry"}), http.StatusOK, 0)
	e.submit(t)

	path := fmt.Sprintf("/reviews/devices/%d/history?page_size=1", e.deviceID)
	env := expect(t, e.do(t, http.MethodGet, path, e.adminToken, nil), http.StatusOK, 0)
	var data historyResult
	decodeData(t, env, &data)
	if data.Total != 2 || data.Size != 1 || data.PageSize != 1 {
		t.Errorf("total = %d, size = %d, page_size = %d", data.Total, data.Size, data.PageSize)
	}
	if len(data.Reviews) != 1 || data.Reviews[0].Result != review.RequestingForReview {
		t.Errorf("newest review = %+v", data.Reviews)
	}
	if data.Device == nil || data.DeviceType == nil || data.DeviceType.ID != e.deviceTypeID {
		t.Errorf("device = %+v, device_type = %+v", data.Device, data.DeviceType)
	}

	expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/reviews/devices/%d/history", e.other.DeviceID), e.adminToken, nil), http.StatusForbidden, 40301)
}

func TestListCustomers(t *testing.T) {
	e := newTestEnv(t)

	env := expect(t, e.do(t, http.MethodGet, "/customers", e.adminToken, nil), http.StatusOK, 0)
	if env.Message != "Data retrieved successfully" {
		t.Errorf("message = %q", env.Message)
	}
	var data struct {
		Data  []facility.Customer `json:"data"`
		Total int                 `json:"total"`
	}
	decodeData(t, env, &data)
	if data.Total != 1 || data.Data[0].ID != e.customerID || data.Data[0].Name != "Acme" {
		t.Errorf("customers = %+v", data)
	}
}

func TestFacilities_SaveListGet(t *testing.T) {
	e := newTestEnv(t)
	save := func(id int64, token string, body map[string]any) testEnvelope {
		t.Helper()
		return envelopeOf(t, e.do(t, http.MethodPost, fmt.Sprintf("/facilities/%d", id), token, body))
	}
	body := func(name string) map[string]any {
		return map[string]any{
			"customer_id":         e.customerID,
			"facility_name":       name,
			"prefecture":          "Osaka",
			"municipality":        "Kita",
			"effective_start_utc": "2025-02-01T00:00:00+00:00",
			"effective_end_utc":   "2026-01-31T23:59:59+00:00",
		}
	}

	env := save(0, e.adminToken, body("Tower B"))
	if env.Message != "Facility created successfully" {
		t.Errorf("message = %q", env.Message)
	}
	var created facility.Facility
	decodeData(t, env, &created)
	if created.ID <= 0 || created.Name != "Tower B" {
		t.Fatalf("created = %+v", created)
	}

	dup := save(0, e.adminToken, body("Tower A"))
	if dup.ErrorCode != 40011 {
		t.Errorf("duplicate name error_code = %d, want 40011", dup.ErrorCode)
	}

	env = save(created.ID, e.adminToken, body("Tower B2"))
	if env.Message != "Facility updated successfully" {
		t.Errorf("message = %q", env.Message)
	}

	env2 := expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/facilities/%d", created.ID), e.adminToken, nil), http.StatusOK, 0)
	var got facility.Facility
	decodeData(t, env2, &got)
	if got.Name != "Tower B2" || got.Prefecture != "Osaka" {
		t.Errorf("facility = %+v", got)
	}

	env2 = expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/facilities?customer_id=%d", e.customerID), e.adminToken, nil), http.StatusOK, 0)
	var list struct {
		Facilities []facility.Facility `json:"facilities"`
		Total      int                 `json:"total"`
	}
	decodeData(t, env2, &list)
	if list.Total != 2 {
		t.Errorf("facilities total = %d, want 2", list.Total)
	}

	if other := save(created.ID, e.otherAdminToken, body("Stolen")); other.ErrorCode != 40301 {
		t.Errorf("other admin save error_code = %d, want 40301", other.ErrorCode)
	}
	if bad := save(0, e.adminToken, map[string]any{"customer_id": e.customerID}); bad.ErrorCode != 40009 {
		t.Errorf("missing name error_code = %d, want 40009", bad.ErrorCode)
	}
	noCustomer := body("Tower C")
	noCustomer["customer_id"] = 0
	if bad := save(0, e.adminToken, noCustomer); bad.ErrorCode != 40003 {
		t.Errorf("missing customer error_code = %d, want 40003", bad.ErrorCode)
	}

	expect(t, e.do(t, http.MethodGet, "/facilities?customer_id=0", e.adminToken, nil), http.StatusBadRequest, 40003)
	expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/facilities/%d", e.other.FacilityID), e.adminToken, nil), http.StatusForbidden, 40301)
}

func TestFacilityAccess(t *testing.T) {
	e := newTestEnv(t)

	env := expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/facilities/%d/access", e.facilityID), e.adminToken, nil), http.StatusOK, 0)
	var data struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	decodeData(t, env, &data)
	if !strings.HasPrefix(data.URL, "https://contractor.example.com/app?authenticate=") {
		t.Errorf("url = %q", data.URL)
	}

	// The provisioned token admits the contractor.
	expect(t, e.do(t, http.MethodPost, "/auth/facility", data.Token, nil), http.StatusOK, 0)
}

func TestExportQRCodes(t *testing.T) {
	e := newTestEnv(t)

	body := map[string]any{"customers": []map[string]any{{"customer_id": e.customerID}}}
	w := e.do(t, http.MethodPost, "/customers/qr-codes", e.adminToken, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "qr_codes_20250601_120000.zip") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("archive entries = %d, want 2 (QR image and URL)", len(zr.File))
	}

	tests := []struct {
		name      string
		body      any
		status    int
		errorCode int
	}{
		{"no customers", map[string]any{"customers": []any{}}, http.StatusBadRequest, 40003},
		{"other admin's customer", map[string]any{"customers": []map[string]any{{"customer_id": e.other.CustomerID}}}, http.StatusForbidden, 40301},
		{"facility outside customer", map[string]any{"customers": []map[string]any{{"customer_id": e.customerID, "facility_ids": []int64{e.other.FacilityID}}}}, http.StatusForbidden, 40301},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodPost, "/customers/qr-codes", e.adminToken, tt.body), tt.status, tt.errorCode)
		})
	}
}

func TestDeviceConnectionStatus(t *testing.T) {
	e := newTestEnv(t)

	env := expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/devices/status?customer_id=%d", e.customerID), e.adminToken, nil), http.StatusOK, 0)
	var data struct {
		Data  []map[string]string `json:"data"`
		Total int                 `json:"total"`
	}
	decodeData(t, env, &data)
	if data.Total != 1 || len(data.Data) != 1 {
		t.Fatalf("data = %+v", data)
	}
	if data.Data[0]["device_id"] != "console-cam-1" || data.Data[0]["group_name"] != "lobby" {
		t.Errorf("status = %v", data.Data[0])
	}

	tests := []struct {
		name      string
		query     string
		status    int
		errorCode int
	}{
		{"unexpected param", fmt.Sprintf("customer_id=%d&color=red", e.customerID), http.StatusBadRequest, 40010},
		{"missing customer", "", http.StatusBadRequest, 40009},
		{"non-integer customer", "customer_id=x", http.StatusBadRequest, 40006},
		{"other admin's customer", fmt.Sprintf("customer_id=%d", e.other.CustomerID), http.StatusForbidden, 40301},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodGet, "/devices/status?"+tt.query, e.adminToken, nil), tt.status, tt.errorCode)
		})
	}
}

func TestDeviceConnectionStatus_IncompleteCredentials(t *testing.T) {
	e := newTestEnv(t)

	// The second tenant's customer has no console credentials.
	expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/devices/status?customer_id=%d", e.other.CustomerID), e.otherAdminToken, nil),
		http.StatusInternalServerError, 50011)
}

func TestListAuditLogs(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, entry := range []*audit.AuditLog{
		{Action: "approve", EntityType: "review", EntityID: "1", AdminID: e.adminID, Source: "api"},
		{Action: "reject", EntityType: "review", EntityID: "2", AdminID: e.adminID, Source: "api"},
		{Action: "approve", EntityType: "review", EntityID: "3", AdminID: e.other.AdminID, Source: "api"},
	} {
		if err := e.auditRepo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	env := expect(t, e.do(t, http.MethodGet, "/audit-logs", e.adminToken, nil), http.StatusOK, 0)
	var all audit.ListResult
	decodeData(t, env, &all)
	if all.Total != 2 {
		t.Errorf("total = %d, want only the caller's 2 entries", all.Total)
	}

	env = expect(t, e.do(t, http.MethodGet, "/audit-logs?action=approve", e.adminToken, nil), http.StatusOK, 0)
	var approvals audit.ListResult
	decodeData(t, env, &approvals)
	if approvals.Total != 1 || approvals.Logs[0].EntityID != "1" {
		t.Errorf("approvals = %+v", approvals)
	}

	expect(t, e.do(t, http.MethodGet, "/audit-logs?limit=ten", e.adminToken, nil), http.StatusBadRequest, 40006)
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"", ""},
		{"abc", "●●●"},
		{"abcd", "●●●●"},
		{"secret", "●●cret"},
		{"シークレット1234", "●●●●●●1234"},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.secret); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}

func TestConsoleCredentials_Get(t *testing.T) {
	e := newTestEnv(t)
	path := fmt.Sprintf("/customers/%d/console_credentials", e.customerID)

	env := expect(t, e.do(t, http.MethodGet, path, e.adminToken, nil), http.StatusOK, 0)
	var data map[string]any
	decodeData(t, env, &data)
	want := map[string]any{
		"id":             float64(e.customerID),
		"customer_name":  "Acme",
		"auth_url":       e.console.srv.URL + "/token",
		"base_url":       e.console.srv.URL + "/api",
		"client_id":      "client",
		"client_secret":  "●●cret",
		"application_id": "",
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("%s = %v, want %v", k, data[k], v)
		}
	}

	tests := []struct {
		name      string
		path      string
		token     string
		status    int
		errorCode int
	}{
		{"other admin's customer", path, e.otherAdminToken, http.StatusForbidden, 40301},
		{"non-integer id", "/customers/abc/console_credentials", e.adminToken, http.StatusBadRequest, 40006},
		{"no session", path, "", http.StatusUnauthorized, 40104},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodGet, tt.path, tt.token, nil), tt.status, tt.errorCode)
		})
	}

	// A customer without stored credentials reads back empty fields.
	env = expect(t, e.do(t, http.MethodGet, fmt.Sprintf("/customers/%d/console_credentials", e.other.CustomerID), e.otherAdminToken, nil),
		http.StatusOK, 0)
	decodeData(t, env, &data)
	if data["client_secret"] != "" || data["client_id"] != "" {
		t.Errorf("empty credentials = %v", data)
	}
}

func TestConsoleCredentials_Update(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	path := fmt.Sprintf("/customers/%d/console_credentials", e.customerID)
	original := e.console.credentials()

	body := func(mutate func(map[string]string)) map[string]string {
		b := map[string]string{
			"auth_url":      e.console.srv.URL + "/token",
			"base_url":      e.console.srv.URL + "/api",
			"client_id":     "client-2",
			"client_secret": "new-secret-9876",
		}
		if mutate != nil {
			mutate(b)
		}
		return b
	}

	failures := []struct {
		name      string
		token     string
		body      map[string]string
		setup     func()
		status    int
		errorCode int
	}{
		{"missing auth url", e.adminToken, body(func(b map[string]string) { delete(b, "auth_url") }), nil, http.StatusBadRequest, 40009},
		{"missing client secret", e.adminToken, body(func(b map[string]string) { b["client_secret"] = "" }), nil, http.StatusBadRequest, 40009},
		{"other admin's customer", e.otherAdminToken, body(nil), nil, http.StatusForbidden, 40301},
		{"client secret rejected", e.adminToken, body(func(b map[string]string) { b["client_secret"] = "wrong-secret" }), nil, http.StatusForbidden, 40310},
		{"token refused", e.adminToken, body(nil), func() { e.console.rejectAll.Store(true) }, http.StatusForbidden, 40305},
		{
			"token refused with application id", e.adminToken,
			body(func(b map[string]string) { b["application_id"] = "app-1" }),
			func() { e.console.rejectAll.Store(true) }, http.StatusForbidden, 40306,
		},
		{"wrong base url", e.adminToken, body(func(b map[string]string) { b["base_url"] = e.console.srv.URL + "/wrong" }), nil, http.StatusForbidden, 40307},
		{"no devices", e.adminToken, body(nil), func() { e.console.noDevices.Store(true) }, http.StatusForbidden, 40308},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			e.console.rejectAll.Store(false)
			e.console.noDevices.Store(false)
			if tt.setup != nil {
				tt.setup()
			}
			expect(t, e.do(t, http.MethodPut, path, tt.token, tt.body), tt.status, tt.errorCode)

			got, err := e.repo.ConsoleCredentials(ctx, e.customerID)
			if err != nil {
				t.Fatalf("ConsoleCredentials() error = %v", err)
			}
			if got != original {
				t.Errorf("stored credentials changed after a rejected update: %+v", got)
			}
		})
	}
	e.console.rejectAll.Store(false)
	e.console.noDevices.Store(false)

	t.Run("masked secret keeps the stored one", func(t *testing.T) {
		b := body(func(b map[string]string) { b["client_secret"] = "●●cret" })
		env := expect(t, e.do(t, http.MethodPut, path, e.adminToken, b), http.StatusOK, 0)
		if env.Message != "Successfully updated" {
			t.Errorf("message = %q", env.Message)
		}
		if got := e.console.lastSecret.Load(); got != "secret" {
			t.Errorf("console saw client_secret %v, want the stored secret", got)
		}
		got, err := e.repo.ConsoleCredentials(ctx, e.customerID)
		if err != nil {
			t.Fatalf("ConsoleCredentials() error = %v", err)
		}
		if got.ClientID != "client-2" || got.ClientSecret != "secret" {
			t.Errorf("stored = %+v", got)
		}
	})

	t.Run("new secret is stored encrypted", func(t *testing.T) {
		b := body(func(b map[string]string) { b["application_id"] = "app-1" })
		expect(t, e.do(t, http.MethodPut, path, e.adminToken, b), http.StatusOK, 0)

		got, err := e.repo.ConsoleCredentials(ctx, e.customerID)
		if err != nil {
			t.Fatalf("ConsoleCredentials() error = %v", err)
		}
		if got.ClientSecret != "new-secret-9876" || got.ApplicationID != "app-1" {
			t.Errorf("stored = %+v", got)
		}

		env := expect(t, e.do(t, http.MethodGet, path, e.adminToken, nil), http.StatusOK, 0)
		var view map[string]any
		decodeData(t, env, &view)
		if view["client_secret"] != strings.Repeat("●", 11)+"9876" {
			t.Errorf("masked secret = %v", view["client_secret"])
		}
	})
}

func TestFacilityTypes(t *testing.T) {
	e := newTestEnv(t)

	type listData struct {
		Data  []facility.FacilityType `json:"data"`
		Total int                     `json:"total"`
	}

	env := expect(t, e.do(t, http.MethodGet, "/facility-types", e.adminToken, nil), http.StatusOK, 0)
	if env.Message != "Facility types retrieved successfully" {
		t.Errorf("message = %q", env.Message)
	}
	var empty listData
	decodeData(t, env, &empty)
	if empty.Total != 0 || empty.Data == nil {
		t.Errorf("initial list = %+v, want an empty array", empty)
	}

	env = expect(t, e.do(t, http.MethodPost, "/facility-types", e.adminToken, map[string]string{"name": "  Parking "}), http.StatusCreated, 0)
	if env.Message != "Facility type created" {
		t.Errorf("message = %q", env.Message)
	}
	var created facility.FacilityType
	decodeData(t, env, &created)
	if created.ID == 0 || created.Name != "Parking" || created.AdminID != e.adminID {
		t.Errorf("created = %+v", created)
	}

	tests := []struct {
		name      string
		body      any
		status    int
		errorCode int
	}{
		{"blank name", map[string]string{"name": "   "}, http.StatusBadRequest, 40009},
		{"name too long", map[string]string{"name": strings.Repeat("x", 128)}, http.StatusBadRequest, 40006},
		{"unknown field", map[string]string{"name": "Dock", "color": "red"}, http.StatusBadRequest, 40010},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodPost, "/facility-types", e.adminToken, tt.body), tt.status, tt.errorCode)
		})
	}

	var mine listData
	decodeData(t, expect(t, e.do(t, http.MethodGet, "/facility-types", e.adminToken, nil), http.StatusOK, 0), &mine)
	if mine.Total != 1 || mine.Data[0].ID != created.ID {
		t.Errorf("own list = %+v", mine)
	}

	var theirs listData
	decodeData(t, expect(t, e.do(t, http.MethodGet, "/facility-types", e.otherAdminToken, nil), http.StatusOK, 0), &theirs)
	if theirs.Total != 0 {
		t.Errorf("other admin sees %+v, want none", theirs)
	}
}

func TestUpdateReferenceImage(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	path := fmt.Sprintf("/device-types/%d/reference-image", e.deviceTypeID)

	for _, tt := range []struct {
		name  string
		image string
		want  string
	}{
		{"bare base64 gets the prefix", "AAAA", "data:image/jpeg;base64,AAAA"},
		{"data url kept as sent", "data:image/jpeg;base64,BBBB", "data:image/jpeg;base64,BBBB"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			env := expect(t, e.do(t, http.MethodPut, path, e.adminToken, map[string]string{"reference_image": tt.image}), http.StatusOK, 0)
			if env.Message != "Updated successfully" {
				t.Errorf("message = %q", env.Message)
			}
			var data map[string]string
			decodeData(t, env, &data)
			if data["message"] != "Reference image updated successfully" {
				t.Errorf("data = %v", data)
			}
			dt, err := e.repo.GetDeviceType(ctx, e.deviceTypeID)
			if err != nil {
				t.Fatalf("GetDeviceType() error = %v", err)
			}
			if dt.SampleImage != tt.want {
				t.Errorf("SampleImage = %q, want %q", dt.SampleImage, tt.want)
			}
		})
	}

	tests := []struct {
		name      string
		path      string
		body      any
		status    int
		errorCode int
	}{
		{"empty image", path, map[string]string{"reference_image": ""}, http.StatusBadRequest, 40006},
		{"unknown device type", "/device-types/999999/reference-image", map[string]string{"reference_image": "AAAA"}, http.StatusNotFound, 40411},
		{"non-integer id", "/device-types/abc/reference-image", map[string]string{"reference_image": "AAAA"}, http.StatusBadRequest, 40006},
		{"unknown field", path, map[string]string{"image": "AAAA"}, http.StatusBadRequest, 40010},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodPut, tt.path, e.adminToken, tt.body), tt.status, tt.errorCode)
		})
	}
}

func TestCreateAdmin(t *testing.T) {
	e := newTestEnv(t)

	body := map[string]string{"login_id": "second@example.com", "password": "another-passphrase"}
	env := expect(t, e.do(t, http.MethodPost, "/admins", e.adminToken, body), http.StatusCreated, 0)
	if env.Message != "Admin created" {
		t.Errorf("message = %q", env.Message)
	}
	var data map[string]int64
	decodeData(t, env, &data)
	if data["id"] == 0 {
		t.Errorf("data = %v, want the new admin id", data)
	}

	// The new admin can log in.
	expect(t, e.do(t, http.MethodPost, "/auth/login", "", body), http.StatusOK, 0)

	tests := []struct {
		name      string
		token     string
		body      any
		status    int
		errorCode int
	}{
		{"taken login id", e.adminToken, map[string]string{"login_id": adminLogin, "password": "x"}, http.StatusBadRequest, 40016},
		{"invalid login id", e.adminToken, map[string]string{"login_id": "has space", "password": "x"}, http.StatusBadRequest, 40004},
		{"missing password", e.adminToken, map[string]string{"login_id": "third"}, http.StatusBadRequest, 40009},
		{"no session", "", body, http.StatusUnauthorized, 40104},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do(t, http.MethodPost, "/admins", tt.token, tt.body), tt.status, tt.errorCode)
		})
	}
}
