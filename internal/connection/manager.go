// Package connection links application profiles to Calendly accounts:
// connect, disconnect and background token refresh.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/calendly"
	"github.com/fuomag9/schedsync/internal/config"
	"github.com/fuomag9/schedsync/internal/models"
	"github.com/fuomag9/schedsync/internal/store"
)

const (
	// Calendly access tokens live two hours; used when the token response omits expires_in.
	defaultTokenLifetime = 2 * time.Hour
	refreshWindow        = 30 * time.Minute
)

// ErrMissingCode is returned when the callback carries no authorization code
var ErrMissingCode = errors.New("connection: authorization code is required")

// TokenExchanger talks to the provider's OAuth endpoints
type TokenExchanger interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*calendly.Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (*calendly.Tokens, error)
	Revoke(ctx context.Context, accessToken string)
}

// ProviderAPI fetches identities and manages webhook subscriptions
type ProviderAPI interface {
	CurrentUser(ctx context.Context, accessToken string) (*calendly.User, error)
	CreateSubscription(ctx context.Context, accessToken, callbackURL, organizationURI, userURI string) (string, error)
	DeleteSubscription(ctx context.Context, subscriptionURI, accessToken string) error
}

// Sealer encrypts tokens before they are stored
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Result is a successful connection. Tokens are returned in plaintext only
// so the transport can set its short-lived fallback credentials.
type Result struct {
	Account *models.CalendarAccount
	Tokens  *calendly.Tokens
}

// FallbackCredentials is the transport-level token copy used when the
// stored token cannot be opened.
type FallbackCredentials struct {
	AccessToken string
}

// Manager runs the connection state machine for each profile
type Manager struct {
	oauth       TokenExchanger
	api         ProviderAPI
	vault       Sealer
	accounts    store.Accounts
	redirectURL string
	webhookURL  string
	logger      *zap.Logger
	now         func() time.Time
}

// NewManager creates a connection manager
func NewManager(oauth TokenExchanger, api ProviderAPI, vault Sealer, accounts store.Accounts, cfg *config.CalendlyConfig, logger *zap.Logger) *Manager {
	return &Manager{
		oauth:       oauth,
		api:         api,
		vault:       vault,
		accounts:    accounts,
		redirectURL: cfg.RedirectURL,
		webhookURL:  cfg.WebhookURL,
		logger:      logger.Named("connection"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AuthorizationURL returns the provider consent URL. The profile stays
// disconnected until the callback completes.
func (m *Manager) AuthorizationURL(state string) string {
	return m.oauth.AuthorizationURL(state)
}

// Connect completes the OAuth callback for profileID. The new account is
// stored only when every provider call succeeded; an existing record is
// changed on failure only to drop a subscription that no longer exists.
func (m *Manager) Connect(ctx context.Context, profileID uuid.UUID, code string) (*Result, error) {
	if code == "" {
		return nil, ErrMissingCode
	}
	log := m.logger.With(zap.String("profile_id", profileID.String()))

	tokens, err := m.oauth.ExchangeCode(ctx, code, m.redirectURL)
	if err != nil {
		return nil, err
	}

	user, err := m.api.CurrentUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if tokens.OwnerURI != "" && tokens.OwnerURI != user.URI {
		return nil, &calendly.IdentityError{
			Err: fmt.Errorf("token owner %s does not match current user %s", tokens.OwnerURI, user.URI),
		}
	}
	log = log.With(zap.String("provider_user_uri", user.URI))

	orgURI := tokens.OrganizationURI
	if orgURI == "" {
		orgURI = user.OrganizationURI
	}
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = m.now().Add(defaultTokenLifetime)
	}

	accessSealed, err := m.vault.Seal(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	refreshSealed, err := m.vault.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("seal refresh token: %w", err)
	}

	existing, err := m.accounts.FindAccount(ctx, user.URI)
	if errors.Is(err, store.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	prior, err := m.accounts.FindAccountByProfile(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		prior = nil
	} else if err != nil {
		return nil, fmt.Errorf("load profile account: %w", err)
	}

	subscriptionURI, err := m.subscribe(ctx, log, existing, tokens.AccessToken, orgURI, user.URI)
	if err != nil {
		return nil, err
	}

	account := &models.CalendarAccount{
		ProviderUserURI:        user.URI,
		ProfileID:              profileID,
		AccessTokenEncrypted:   accessSealed,
		RefreshTokenEncrypted:  refreshSealed,
		TokenExpiresAt:         tokens.ExpiresAt,
		SchedulingURL:          user.SchedulingURL,
		WebhookSubscriptionURI: &subscriptionURI,
		OrganizationURI:        orgURI,
	}
	if err := m.accounts.ReplaceAccount(ctx, account); err != nil {
		m.rollbackSubscription(ctx, log, subscriptionURI, tokens.AccessToken)
		return nil, fmt.Errorf("save account: %w", err)
	}

	if existing != nil && existing.HasSubscription() && *existing.WebhookSubscriptionURI != subscriptionURI {
		if err := m.api.DeleteSubscription(ctx, *existing.WebhookSubscriptionURI, tokens.AccessToken); err != nil {
			log.Warn("failed to delete previous webhook subscription", zap.Error(err))
		}
	}

	// The prior identity's record is gone with the replace; its provider
	// state is released only now.
	if prior != nil && prior.ProviderUserURI != user.URI {
		log.Info("replaced calendar account linked to a different identity",
			zap.String("previous_provider_user_uri", prior.ProviderUserURI))
		m.teardown(ctx, prior, FallbackCredentials{})
	}

	log.Info("calendar account connected", zap.String("subscription_uri", subscriptionURI))
	return &Result{Account: account, Tokens: tokens}, nil
}

// subscribe creates the webhook subscription for userURI. The provider
// allows one subscription per callback url and user, so a conflict with
// the identity's stored subscription replaces it.
func (m *Manager) subscribe(ctx context.Context, log *zap.Logger, existing *models.CalendarAccount, accessToken, orgURI, userURI string) (string, error) {
	uri, err := m.api.CreateSubscription(ctx, accessToken, m.webhookURL, orgURI, userURI)
	if err == nil || !isConflict(err) || existing == nil || !existing.HasSubscription() {
		return uri, err
	}

	log.Info("replacing existing webhook subscription",
		zap.String("subscription_uri", *existing.WebhookSubscriptionURI))
	if err := m.api.DeleteSubscription(ctx, *existing.WebhookSubscriptionURI, accessToken); err != nil {
		return "", err
	}

	uri, err = m.api.CreateSubscription(ctx, accessToken, m.webhookURL, orgURI, userURI)
	if err != nil {
		m.clearSubscription(ctx, log, existing)
		return "", err
	}
	return uri, nil
}

// clearSubscription records that the account no longer has a subscription
func (m *Manager) clearSubscription(ctx context.Context, log *zap.Logger, account *models.CalendarAccount) {
	cleared := *account
	cleared.WebhookSubscriptionURI = nil
	if err := m.accounts.ReplaceAccount(ctx, &cleared); err != nil {
		log.Error("failed to clear deleted webhook subscription", zap.Error(err))
	}
}

func isConflict(err error) bool {
	var subErr *calendly.SubscriptionError
	return errors.As(err, &subErr) && subErr.StatusCode == http.StatusConflict
}

// Disconnect removes the profile's account. Provider-side cleanup is
// best-effort; only a failure to delete the local record is returned.
func (m *Manager) Disconnect(ctx context.Context, profileID uuid.UUID, fallback FallbackCredentials) error {
	account, err := m.accounts.FindAccountByProfile(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		if fallback.AccessToken != "" {
			m.oauth.Revoke(ctx, fallback.AccessToken)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	m.teardown(ctx, account, fallback)

	if err := m.accounts.DeleteAccount(ctx, account.ProviderUserURI); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	m.logger.Info("calendar account disconnected",
		zap.String("profile_id", profileID.String()),
		zap.String("provider_user_uri", account.ProviderUserURI),
	)
	return nil
}

// teardown deletes the account's subscription and revokes its token
func (m *Manager) teardown(ctx context.Context, account *models.CalendarAccount, fallback FallbackCredentials) {
	log := m.logger.With(zap.String("provider_user_uri", account.ProviderUserURI))

	accessToken, err := m.vault.Open(account.AccessTokenEncrypted)
	if err != nil {
		log.Warn("stored access token unreadable, using fallback credentials", zap.Error(err))
		accessToken = fallback.AccessToken
	}
	if accessToken == "" {
		log.Warn("no usable access token, skipping provider cleanup")
		return
	}

	if account.HasSubscription() {
		if err := m.api.DeleteSubscription(ctx, *account.WebhookSubscriptionURI, accessToken); err != nil {
			log.Warn("failed to delete webhook subscription",
				zap.String("subscription_uri", *account.WebhookSubscriptionURI),
				zap.Error(err))
		}
	}

	m.oauth.Revoke(ctx, accessToken)
}

func (m *Manager) rollbackSubscription(ctx context.Context, log *zap.Logger, subscriptionURI, accessToken string) {
	if err := m.api.DeleteSubscription(ctx, subscriptionURI, accessToken); err != nil {
		log.Error("failed to roll back webhook subscription",
			zap.String("subscription_uri", subscriptionURI),
			zap.Error(err))
	}
}

// RefreshExpiring refreshes every account whose access token expires within
// the refresh window and returns how many were refreshed.
func (m *Manager) RefreshExpiring(ctx context.Context) (int, error) {
	accounts, err := m.accounts.ListExpiringAccounts(ctx, m.now().Add(refreshWindow))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range accounts {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if err := m.refreshAccount(ctx, &accounts[i]); err != nil {
			log := m.logger.With(zap.String("provider_user_uri", accounts[i].ProviderUserURI), zap.Error(err))
			if errors.Is(err, calendly.ErrReconnectRequired) {
				log.Warn("refresh token rejected, user must reconnect")
			} else {
				log.Error("failed to refresh access token")
			}
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (m *Manager) refreshAccount(ctx context.Context, account *models.CalendarAccount) error {
	refreshToken, err := m.vault.Open(account.RefreshTokenEncrypted)
	if err != nil {
		return fmt.Errorf("open refresh token: %w", err)
	}

	tokens, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	if tokens.ExpiresAt.IsZero() {
		tokens.ExpiresAt = m.now().Add(defaultTokenLifetime)
	}

	accessSealed, err := m.vault.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refreshSealed, err := m.vault.Seal(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	return m.accounts.UpdateTokens(ctx, account.ProviderUserURI, accessSealed, refreshSealed, tokens.ExpiresAt)
}
