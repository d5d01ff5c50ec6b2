package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/facility-review-core/internal/access"
	"github.com/nerrad567/facility-review-core/internal/audit"
	"github.com/nerrad567/facility-review-core/internal/auth"
	"github.com/nerrad567/facility-review-core/internal/console"
	"github.com/nerrad567/facility-review-core/internal/facility"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/config"
	"github.com/nerrad567/facility-review-core/internal/infrastructure/logging"
	"github.com/nerrad567/facility-review-core/internal/provisioning"
	"github.com/nerrad567/facility-review-core/internal/review"
	"github.com/nerrad567/facility-review-core/internal/secrets"
	"github.com/nerrad567/facility-review-core/internal/testutil"
)

const (
	testSecret    = "api-test-secret-at-least-32-characters"
	adminLogin    = "owner@example.com"
	adminPassword = "correct-horse-battery"
	cameraImage   = "aW1hZ2UtYnl0ZXM="
)

// testNow falls inside the default fixture window.
var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeConsole serves the token and device endpoints of a device console.
type fakeConsole struct {
	srv       *httptest.Server
	rejectAll atomic.Bool
	noDevices atomic.Bool
	calls     atomic.Int32

	// lastSecret is the client_secret of the latest token request.
	lastSecret atomic.Value
}

func newFakeConsole(t *testing.T) *fakeConsole {
	t.Helper()
	fc := &fakeConsole{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if fc.rejectAll.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		secret := r.PostFormValue("client_secret")
		fc.lastSecret.Store(secret)
		if secret == "wrong-secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "console-token"})
	})
	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		fc.calls.Add(1)
		devices := []map[string]any{}
		if fc.noDevices.Load() {
			writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
			return
		}
		for _, id := range strings.Split(r.URL.Query().Get("device_ids"), ",") {
			devices = append(devices, map[string]any{
				"device_id":        id,
				"device_name":      "console " + id,
				"connection_state": "Connected",
				"device_groups":    []map[string]string{{"device_group_id": "lobby"}},
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
	})
	mux.HandleFunc("/api/devices/", func(w http.ResponseWriter, _ *http.Request) {
		fc.calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"contents": cameraImage})
	})
	fc.srv = httptest.NewServer(mux)
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeConsole) credentials() facility.ConsoleCredentials {
	return facility.ConsoleCredentials{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      fc.srv.URL + "/token",
		BaseURL:      fc.srv.URL + "/api",
	}
}

// stubRenderer avoids PNG encoding in handler tests.
type stubRenderer struct{}

func (stubRenderer) Render(content string) ([]byte, error) { return []byte("PNG:" + content), nil }

// testEnv is a server over a migrated database with one admin owning one
// customer, facility and device, plus an unrelated second tenant.
type testEnv struct {
	srv       *Server
	handler   http.Handler
	repo      *facility.SQLiteRepository
	codec     *access.Codec
	issuer    *auth.Issuer
	auditRepo *audit.SQLiteRepository
	console   *fakeConsole

	adminID      int64
	customerID   int64
	facilityID   int64
	deviceTypeID int64
	deviceID     int64
	other        testutil.Fixture

	adminToken      string
	otherAdminToken string
	contractorToken string
	otherContractor string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	sc, err := secrets.New(testSecret)
	if err != nil {
		t.Fatalf("secrets.New() error = %v", err)
	}
	db := testutil.OpenDB(t)
	log := logging.Discard()

	e := &testEnv{
		repo:      facility.NewRepository(db.DB, sc),
		codec:     access.NewCodec(sc),
		issuer:    auth.NewIssuer(sc.SigningKey(), time.Hour, nil),
		auditRepo: audit.NewSQLiteRepository(db.DB),
		console:   newFakeConsole(t),
	}

	admins := auth.NewAdminRepository(db.DB)
	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	admin := &auth.Admin{LoginID: adminLogin, PasswordHash: hash}
	if err := admins.Create(ctx, admin); err != nil {
		t.Fatalf("creating admin: %v", err)
	}
	e.adminID = admin.ID

	customer := &facility.Customer{Name: "Acme", AdminID: admin.ID}
	if err := e.repo.CreateCustomer(ctx, customer, e.console.credentials()); err != nil {
		t.Fatalf("CreateCustomer() error = %v", err)
	}
	e.customerID = customer.ID
	e.facilityID = testutil.Facility(t, db.DB, customer.ID, "Tower A")
	e.deviceTypeID = testutil.DeviceType(t, db.DB, "Dome camera")
	e.deviceID = testutil.Device(t, db.DB, e.facilityID, e.deviceTypeID, "cam-1")
	e.other = testutil.Seed(t, db.DB, "other")

	qr := provisioning.NewService(provisioning.Config{
		Codec:    e.codec,
		AppURL:   "https://contractor.example.com/app",
		Renderer: stubRenderer{},
		Catalog:  e.repo,
		Logger:   log,
	})

	e.srv, err = New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger: log,

		Gate:       access.NewGate(e.codec, e.repo),
		Auth:       auth.NewService(admins, auth.NewSessionRepository(db.DB), e.issuer),
		Authorizer: auth.NewResourceAuthorizer(db.DB),
		Catalog:    e.repo,
		Reviews:    review.NewStore(db.DB),
		Machine: review.NewMachine(review.MachineConfig{
			DB:        db.DB,
			TxTimeout: 5 * time.Second,
			Logger:    log,
			Clock:     func() time.Time { return testNow },
		}),
		Provisioning: qr,
		Console:      console.New(config.ConsoleConfig{Retries: 1}, log),
		AuditRepo:    e.auditRepo,
		Clock:        func() time.Time { return testNow },
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.handler = e.srv.Handler()

	e.adminToken = e.sessionToken(t, admin.ID, adminLogin)
	e.otherAdminToken = e.sessionToken(t, e.other.AdminID, "admin-other")
	e.contractorToken = e.facilityToken(t, e.facilityID)
	e.otherContractor = e.facilityToken(t, e.other.FacilityID)
	return e
}

func (e *testEnv) sessionToken(t *testing.T, adminID int64, loginID string) string {
	t.Helper()
	token, _, err := e.issuer.Issue(&auth.Admin{ID: adminID, LoginID: loginID})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func (e *testEnv) facilityToken(t *testing.T, facilityID int64) string {
	t.Helper()
	f, err := e.repo.GetFacility(context.Background(), facilityID)
	if err != nil {
		t.Fatalf("GetFacility() error = %v", err)
	}
	claims, err := provisioning.Claims(f)
	if err != nil {
		t.Fatalf("Claims() error = %v", err)
	}
	token, err := e.codec.Encode(claims)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return token
}

// do sends a request through the full router. body may be nil, a string,
// or any value to be JSON encoded.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type testEnvelope struct {
	StatusCode int             `json:"status_code"`
	ErrorCode  int             `json:"error_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func envelopeOf(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v; body: %s", err, w.Body.String())
	}
	return env
}

// expect checks the HTTP status and error code and returns the envelope.
func expect(t *testing.T, w *httptest.ResponseRecorder, status, errorCode int) testEnvelope {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, status, w.Body.String())
	}
	env := envelopeOf(t, w)
	if env.StatusCode != status {
		t.Errorf("envelope status_code = %d, want %d", env.StatusCode, status)
	}
	if env.ErrorCode != errorCode {
		t.Errorf("error_code = %d, want %d (message %q)", env.ErrorCode, errorCode, env.Message)
	}
	return env
}

func decodeData(t *testing.T, env testEnvelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("unmarshal data: %v; data: %s", err, env.Data)
	}
}

// ─── Server and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", "", nil)
	env := expect(t, w, http.StatusOK, 0)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if env.Message != "Successfully" {
		t.Errorf("message = %q, want Successfully", env.Message)
	}
	var data map[string]string
	decodeData(t, env, &data)
	if data["status"] != "ok" || data["version"] != "test" {
		t.Errorf("data = %v", data)
	}
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/reviews", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want http://localhost:3000", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	e := newTestEnv(t)
	h := e.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	expect(t, w, http.StatusInternalServerError, 50012)
}

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list allows all", nil, "https://a.example", true},
		{"listed", []string{"https://a.example"}, "https://a.example", true},
		{"unlisted", []string{"https://a.example"}, "https://b.example", false},
		{"wildcard", []string{"*"}, "https://b.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: tt.allowed}}}
			if got := s.isAllowedOrigin(tt.origin); got != tt.want {
				t.Errorf("isAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	e := newTestEnv(t)

	expect(t, e.do(t, http.MethodGet, "/nonexistent", "", nil), http.StatusNotFound, 40410)
	expect(t, e.do(t, http.MethodDelete, "/health", "", nil), http.StatusMethodNotAllowed, 40501)
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"table entry", ErrDeviceNotFound, 40403},
		{"wrapped sentinel", fmt.Errorf("ctx: %w", review.ErrApproveStale), 40303},
		{"parameter missing", fmt.Errorf("decode: %w", &access.ParameterMissingError{Field: "exp"}), 40009},
		{"joined entry wins", errors.Join(ErrInvalidConsoleCredentials, console.ErrAuthFailed), 50011},
		{"console auth", console.ErrAuthFailed, 40305},
		{"facility window", facility.ErrInvalidWindow, 40006},
		{"unknown", errors.New("boom"), 50009},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorFor(tt.err).Code; got != tt.want {
				t.Errorf("errorFor() code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorFor_ParameterMissingNamesField(t *testing.T) {
	got := errorFor(&access.ParameterMissingError{Field: "start_time"})
	if got.Status != http.StatusBadRequest || !strings.Contains(got.Message, "`start_time`") {
		t.Errorf("errorFor() = %+v", got)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) succeeded, want error")
	}
}

// ─── WebSocket tickets and hub ─────────────────────────────────────

func TestTicketStore_SingleUse(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue(42, testNow)

	adminID, ok := store.consume(ticket, testNow)
	if !ok || adminID != 42 {
		t.Fatalf("consume() = %d, %v; want 42, true", adminID, ok)
	}
	if _, ok := store.consume(ticket, testNow); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()
	ticket := store.issue(1, testNow)

	if _, ok := store.consume(ticket, testNow.Add(ticketTTL+time.Second)); ok {
		t.Error("expired ticket should not be valid")
	}

	stale := store.issue(1, testNow)
	store.cleanExpired(testNow.Add(ticketTTL + time.Second))
	store.mu.Lock()
	_, kept := store.tickets[stale]
	store.mu.Unlock()
	if kept {
		t.Error("cleanExpired() kept an expired ticket")
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToAdmin(t *testing.T) {
	hub := newTestHub(t)

	mine := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"reviews": {}},
		adminID:       1,
	}
	theirs := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"reviews": {}},
		adminID:       2,
	}
	hub.Register(mine)
	hub.Register(theirs)

	hub.BroadcastToAdmin(1, "reviews", map[string]any{"review_id": 7})

	select {
	case msg := <-mine.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != "reviews" {
			t.Errorf("message = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}

	select {
	case <-theirs.send:
		t.Error("another admin's client received the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{},
		adminID:       1,
	}
	hub.Register(client)
	hub.BroadcastToAdmin(1, "reviews", map[string]any{"review_id": 7})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWSClient_UpdateSubscriptions(t *testing.T) {
	client := &WSClient{
		hub:           newTestHub(t),
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{},
	}
	reply := func() WSMessage {
		t.Helper()
		var msg WSMessage
		select {
		case data := <-client.send:
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("no reply")
		}
		return msg
	}

	tests := []struct {
		name       string
		msg        WSMessage
		add        bool
		wantType   string
		subscribed bool
	}{
		{"unknown channel", WSMessage{ID: "1", Payload: WSSubscribePayload{Channels: []string{"devices"}}}, true, WSTypeError, false},
		{"no channels", WSMessage{ID: "2", Payload: WSSubscribePayload{}}, true, WSTypeError, false},
		{"subscribe", WSMessage{ID: "3", Payload: WSSubscribePayload{Channels: []string{"reviews"}}}, true, WSTypeResponse, true},
		{"unsubscribe", WSMessage{ID: "4", Payload: WSSubscribePayload{Channels: []string{"reviews"}}}, false, WSTypeResponse, false},
	}
	for _, tt := range tests {
		client.updateSubscriptions(tt.msg, tt.add)
		if got := reply(); got.Type != tt.wantType || got.ID != tt.msg.ID {
			t.Errorf("%s: reply = %+v, want type %q", tt.name, got, tt.wantType)
		}
		if client.isSubscribed("reviews") != tt.subscribed {
			t.Errorf("%s: subscribed = %v, want %v", tt.name, !tt.subscribed, tt.subscribed)
		}
	}
}

func TestWebSocket_TicketFlow(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.handler)
	t.Cleanup(ts.Close)

	env := expect(t, e.do(t, http.MethodPost, "/auth/ws-ticket", e.adminToken, nil), http.StatusOK, 0)
	var data struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	decodeData(t, env, &data)
	if data.Ticket == "" || data.ExpiresIn != int(ticketTTL.Seconds()) {
		t.Fatalf("ticket response = %+v", data)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ticket=" + data.Ticket
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"reviews"}}}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	e.srv.Hub().BroadcastToAdmin(e.adminID, "reviews", map[string]any{"review_id": 1})
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != "reviews" {
		t.Errorf("event = %+v", event)
	}

	// The ticket was consumed by the first connection.
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second Dial() with the same ticket succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("second Dial() response = %v, want 401", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
}

func TestWebSocket_MissingTicket(t *testing.T) {
	e := newTestEnv(t)
	expect(t, e.do(t, http.MethodGet, "/ws", "", nil), http.StatusBadRequest, 40009)
	expect(t, e.do(t, http.MethodGet, "/ws?ticket=unknown", "", nil), http.StatusUnauthorized, 40104)
}
