package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/facility-review-core/internal/audit"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ID        string    `json:"id"`
	LoginID   string    `json:"login_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin verifies admin credentials and issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case req.LoginID == "":
		writeError(w, missing("login_id"))
		return
	case req.Password == "":
		writeError(w, missing("password"))
		return
	}

	res, err := s.auth.Login(r.Context(), req.LoginID, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "login",
		EntityType: "admin",
		EntityID:   strconv.FormatInt(res.Admin.ID, 10),
		AdminID:    res.Admin.ID,
		Source:     "api",
	})
	writeData(w, http.StatusOK, "Login successfully", loginResponse{
		Token:     res.Token,
		ID:        strconv.FormatInt(res.Admin.ID, 10),
		LoginID:   res.Admin.LoginID,
		ExpiresAt: res.ExpiresAt,
	})
}

// handleLogout revokes the caller's session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := s.auth.Logout(r.Context(), p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.audit.Record(&audit.AuditLog{
		Action:     "logout",
		EntityType: "admin",
		EntityID:   strconv.FormatInt(p.AdminID, 10),
		AdminID:    p.AdminID,
		Source:     "api",
	})
	writeData(w, http.StatusOK, "Logout successfully", nil)
}

type createAdminRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// handleCreateAdmin adds another admin account.
func (s *Server) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case req.LoginID == "":
		writeError(w, missing("login_id"))
		return
	case req.Password == "":
		writeError(w, missing("password"))
		return
	}

	admin, err := s.auth.CreateAdmin(r.Context(), req.LoginID, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.audit.Record(&audit.AuditLog{
		Action:     "create",
		EntityType: "admin",
		EntityID:   strconv.FormatInt(admin.ID, 10),
		AdminID:    principal(r).AdminID,
		Source:     "api",
		Details:    map[string]any{"login_id": admin.LoginID},
	})
	writeData(w, http.StatusCreated, "Admin created", map[string]int64{"id": admin.ID})
}

// handleWSTicket issues a single-use ticket for the live review feed. The
// browser WebSocket API cannot set headers, so the session token is
// exchanged here for a short-lived query parameter.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(principal(r).AdminID, s.now())
	writeData(w, http.StatusOK, "", map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

type ticketEntry struct {
	adminID   int64
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

func (t *ticketStore) issue(adminID int64, now time.Time) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{adminID: adminID, expiresAt: now.Add(ticketTTL)}
	t.mu.Unlock()
	return ticket
}

// consume validates a ticket and removes it.
func (t *ticketStore) consume(ticket string, now time.Time) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return 0, false
	}
	delete(t.tickets, ticket)
	if now.After(entry.expiresAt) {
		return 0, false
	}
	return entry.adminID, true
}

func (t *ticketStore) cleanExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// cleanLoop runs cleanExpired periodically until the context is cancelled.
func (t *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.cleanExpired(now)
		}
	}
}
