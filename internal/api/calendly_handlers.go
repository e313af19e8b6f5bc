package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/calendly"
	"github.com/fuomag9/schedsync/internal/config"
	"github.com/fuomag9/schedsync/internal/connection"
	"github.com/fuomag9/schedsync/internal/store"
)

const (
	stateCookie        = "calendly_oauth_state"
	accessTokenCookie  = "calendly_access_token"
	refreshTokenCookie = "calendly_refresh_token"
	orgURICookie       = "calendly_organization_uri"

	calendlyCookiePath = "/api/calendly"
	stateTTL           = 10 * time.Minute
	fallbackCookieTTL  = time.Hour
)

// HandleCalendlyAuthorize redirects the caller to the provider consent page
func HandleCalendlyAuthorize(connections *connection.Manager, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := generateState()
		if err != nil {
			logger.Error("failed to generate OAuth state", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to start Calendly connection")
			return
		}

		setCookie(w, cfg, stateCookie, state, stateTTL)
		http.Redirect(w, r, connections.AuthorizationURL(state), http.StatusFound)
	}
}

// HandleCalendlyCallback completes the connection and redirects to the profile page
func HandleCalendlyCallback(connections *connection.Manager, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID := currentProfile(r)
		log := logger.With(zap.String("profile_id", profileID.String()))
		query := r.URL.Query()

		expected, err := r.Cookie(stateCookie)
		clearCookie(w, cfg, stateCookie)
		if err != nil || expected.Value == "" ||
			subtle.ConstantTimeCompare([]byte(expected.Value), []byte(query.Get("state"))) != 1 {
			log.Warn("calendly callback with invalid state")
			writeError(w, http.StatusUnauthorized, "Invalid OAuth state")
			return
		}

		if providerErr := query.Get("error"); providerErr != "" {
			log.Info("calendly authorization denied", zap.String("provider_error", providerErr))
			writeError(w, http.StatusUnauthorized, "Calendly authorization was not granted")
			return
		}

		result, err := connections.Connect(r.Context(), profileID, query.Get("code"))
		if err != nil {
			status, message := callbackFailure(err)
			log.Error("calendly connection failed", zap.Int("status", status), zap.Error(err))
			writeError(w, status, message)
			return
		}

		setCookie(w, cfg, accessTokenCookie, result.Tokens.AccessToken, fallbackCookieTTL)
		setCookie(w, cfg, refreshTokenCookie, result.Tokens.RefreshToken, fallbackCookieTTL)
		setCookie(w, cfg, orgURICookie, result.Account.OrganizationURI, fallbackCookieTTL)

		http.Redirect(w, r, profilePageURL(cfg, "connected"), http.StatusFound)
	}
}

// HandleCalendlyDisconnect removes the caller's connection and redirects to the profile page
func HandleCalendlyDisconnect(connections *connection.Manager, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID := currentProfile(r)

		var fallback connection.FallbackCredentials
		if c, err := r.Cookie(accessTokenCookie); err == nil {
			fallback.AccessToken = c.Value
		}

		clearCookie(w, cfg, accessTokenCookie)
		clearCookie(w, cfg, refreshTokenCookie)
		clearCookie(w, cfg, orgURICookie)

		outcome := "disconnected"
		if err := connections.Disconnect(r.Context(), profileID, fallback); err != nil {
			logger.Error("calendly disconnect failed",
				zap.String("profile_id", profileID.String()),
				zap.Error(err))
			outcome = "disconnect_failed"
		}

		http.Redirect(w, r, profilePageURL(cfg, outcome), http.StatusFound)
	}
}

// AccountResponse is the caller's connection status
type AccountResponse struct {
	Connected       bool       `json:"connected"`
	ProviderUserURI string     `json:"provider_user_uri,omitempty"`
	SchedulingURL   string     `json:"scheduling_url,omitempty"`
	OrganizationURI string     `json:"organization_uri,omitempty"`
	WebhookActive   bool       `json:"webhook_active"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
}

// HandleCalendlyAccount returns the caller's connection status
func HandleCalendlyAccount(accounts store.Accounts, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := accounts.FindAccountByProfile(r.Context(), currentProfile(r))
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, AccountResponse{Connected: false})
			return
		}
		if err != nil {
			logger.Error("failed to load calendar account", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to load Calendly account")
			return
		}

		writeJSON(w, http.StatusOK, AccountResponse{
			Connected:       true,
			ProviderUserURI: account.ProviderUserURI,
			SchedulingURL:   account.SchedulingURL,
			OrganizationURI: account.OrganizationURI,
			WebhookActive:   account.HasSubscription(),
			TokenExpiresAt:  &account.TokenExpiresAt,
			ConnectedAt:     &account.CreatedAt,
		})
	}
}

// callbackFailure maps a connect error to a status and user-facing message
func callbackFailure(err error) (int, string) {
	var exchangeErr *calendly.ExchangeError
	switch {
	case errors.Is(err, connection.ErrMissingCode):
		return http.StatusUnauthorized, "Missing authorization code"
	case errors.As(err, &exchangeErr) && (exchangeErr.StatusCode == http.StatusBadRequest || exchangeErr.StatusCode == http.StatusUnauthorized):
		return http.StatusUnauthorized, "Calendly rejected the authorization code. Please try connecting again."
	default:
		return http.StatusInternalServerError, "Failed to connect Calendly. Please try connecting again."
	}
}

func profilePageURL(cfg *config.Config, outcome string) string {
	return fmt.Sprintf("%s%s?calendly=%s", cfg.AppURL, cfg.ProfilePagePath, url.QueryEscape(outcome))
}

func setCookie(w http.ResponseWriter, cfg *config.Config, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     calendlyCookiePath,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, cfg *config.Config, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     calendlyCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState returns a random OAuth state value
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
