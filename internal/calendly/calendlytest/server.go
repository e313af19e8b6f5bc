// Package calendlytest provides an in-process fake of the Calendly OAuth
// and REST endpoints used by the integration.
package calendlytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fuomag9/schedsync/internal/config"
)

const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	SigningKey   = "test-signing-key"
)

// Op names a fake endpoint that can be forced to fail
type Op string

const (
	OpExchange      Op = "exchange"
	OpRefresh       Op = "refresh"
	OpRevoke        Op = "revoke"
	OpIdentity      Op = "identity"
	OpSubscribe     Op = "subscribe"
	OpUnsubscribe   Op = "unsubscribe"
	OpOmitAccess    Op = "omit_access_token"
	OpRejectRefresh Op = "reject_refresh"
	OpForeignOwner  Op = "foreign_owner"
)

// User is a provider account known to the fake
type User struct {
	URI             string
	Name            string
	Email           string
	SchedulingURL   string
	OrganizationURI string
}

// Subscription is a webhook subscription held by the fake
type Subscription struct {
	URI          string
	CallbackURL  string
	Events       []string
	Organization string
	User         string
	Scope        string
	SigningKey   string
}

// Server fakes the provider. Auth and API endpoints share one base URL.
// Like the provider, it allows one subscription per callback url and user
// and answers a duplicate with 409.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	seq           int
	codes         map[string]User
	access        map[string]User
	refresh       map[string]User
	subscriptions map[string]Subscription
	revoked       []string
	failing       map[Op]bool
}

// NewServer starts a fake provider that is closed when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		codes:         make(map[string]User),
		access:        make(map[string]User),
		refresh:       make(map[string]User),
		subscriptions: make(map[string]Subscription),
		failing:       make(map[Op]bool),
	}

	r := chi.NewRouter()
	r.Post("/oauth/token", s.handleToken)
	r.Post("/oauth/revoke", s.handleRevoke)
	r.Get("/users/me", s.handleMe)
	r.Post("/webhook_subscriptions", s.handleCreateSubscription)
	r.Delete("/webhook_subscriptions/{id}", s.handleDeleteSubscription)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Config returns integration settings pointing at the fake
func (s *Server) Config() *config.CalendlyConfig {
	return &config.CalendlyConfig{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		SigningKey:   SigningKey,
		AuthBaseURL:  s.URL,
		APIBaseURL:   s.URL,
		RedirectURL:  "https://app.test/api/calendly/callback",
		WebhookURL:   "https://app.test/api/webhooks/calendly",
	}
}

// AddCode registers an authorization code that resolves to user
func (s *Server) AddCode(code string, user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = user
}

// IssueTokens returns a valid access/refresh token pair for user
func (s *Server) IssueTokens(user User) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(user)
}

// SetFailing forces op to fail until reset
func (s *Server) SetFailing(op Op, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[op] = failing
}

// Subscriptions returns the live subscriptions
func (s *Server) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	return out
}

// Revoked returns the access tokens revoked so far
func (s *Server) Revoked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func (s *Server) issueLocked(user User) (string, string) {
	s.seq++
	access := fmt.Sprintf("access-%d", s.seq)
	refresh := fmt.Sprintf("refresh-%d", s.seq)
	s.access[access] = user
	s.refresh[refresh] = user
	return access, refresh
}

func (s *Server) isFailing(op Op) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing[op]
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var user User
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if s.failing[OpExchange] {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		u, ok := s.codes[r.PostForm.Get("code")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(s.codes, r.PostForm.Get("code"))
		user = u
	case "refresh_token":
		if s.failing[OpRefresh] {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		u, ok := s.refresh[r.PostForm.Get("refresh_token")]
		if !ok || s.failing[OpRejectRefresh] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(s.refresh, r.PostForm.Get("refresh_token"))
		user = u
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	access, refresh := s.issueLocked(user)
	resp := map[string]any{
		"token_type":    "Bearer",
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    7200,
		"owner":         user.URI,
		"organization":  user.OrganizationURI,
	}
	if s.failing[OpForeignOwner] {
		resp["owner"] = user.URI + "-other"
	}
	if s.failing[OpOmitAccess] {
		delete(resp, "access_token")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if id, secret, ok := r.BasicAuth(); !ok || id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if s.isFailing(OpRevoke) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	token := r.PostForm.Get("token")
	delete(s.access, token)
	s.revoked = append(s.revoked, token)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) bearerUser(r *http.Request) (User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.access[token]
	return u, ok
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.isFailing(OpIdentity) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	user, ok := s.bearerUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"title": "Unauthenticated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource": map[string]string{
			"uri":                  user.URI,
			"name":                 user.Name,
			"email":                user.Email,
			"scheduling_url":       user.SchedulingURL,
			"current_organization": user.OrganizationURI,
		},
	})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.isFailing(OpSubscribe) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": "Invalid Argument"})
		return
	}
	if _, ok := s.bearerUser(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"title": "Unauthenticated"})
		return
	}

	var req struct {
		URL          string   `json:"url"`
		Events       []string `json:"events"`
		Organization string   `json:"organization"`
		User         string   `json:"user"`
		Scope        string   `json:"scope"`
		SigningKey   string   `json:"signing_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": "Invalid Argument"})
		return
	}

	s.mu.Lock()
	for _, existing := range s.subscriptions {
		if existing.CallbackURL == req.URL && existing.User == req.User {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"title": "Already Exists"})
			return
		}
	}
	s.seq++
	uri := fmt.Sprintf("%s/webhook_subscriptions/sub-%d", s.URL, s.seq)
	s.subscriptions[uri] = Subscription{
		URI:          uri,
		CallbackURL:  req.URL,
		Events:       req.Events,
		Organization: req.Organization,
		User:         req.User,
		Scope:        req.Scope,
		SigningKey:   req.SigningKey,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"resource": map[string]string{"uri": uri, "state": "active"},
	})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if s.isFailing(OpUnsubscribe) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"title": "Internal Server Error"})
		return
	}
	if _, ok := s.bearerUser(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"title": "Unauthenticated"})
		return
	}

	uri := s.URL + "/webhook_subscriptions/" + chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.subscriptions[uri]
	delete(s.subscriptions, uri)
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "Resource Not Found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
