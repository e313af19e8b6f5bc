// Package calendly talks to the Calendly OAuth and REST APIs and parses
// its webhook payloads.
package calendly

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fuomag9/schedsync/internal/config"
)

// Tokens is the credential set returned by the token endpoint
type Tokens struct {
	AccessToken     string
	RefreshToken    string
	OrganizationURI string
	OwnerURI        string
	ExpiresAt       time.Time
}

// OAuthClient exchanges, refreshes and revokes tokens against the
// provider's token endpoint. The client authenticates with HTTP Basic auth.
type OAuthClient struct {
	cfg        *config.CalendlyConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOAuthClient creates a token client for the configured integration
func NewOAuthClient(cfg *config.CalendlyConfig, httpClient *http.Client, logger *zap.Logger) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthClient{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthBaseURL + "/oauth/authorize",
				TokenURL:  cfg.AuthBaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
		logger:     logger.Named("calendly.oauth"),
	}
}

// AuthorizationURL returns the provider consent URL carrying client_id,
// redirect_uri, response_type=code and the given state.
func (c *OAuthClient) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &ExchangeError{Err: errors.New("authorization code is required")}
	}

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := c.oauth.Exchange(c.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, &ExchangeError{StatusCode: retrieveStatus(err), Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &ExchangeError{Err: errors.New("token response missing access_token")}
	}

	return tokensFrom(tok), nil
}

// Refresh obtains a new access token. A rejected refresh token yields a
// RefreshError matching ErrReconnectRequired.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &RefreshError{Err: errors.New("refresh token is required"), reconnect: true}
	}

	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		refreshErr := &RefreshError{StatusCode: retrieveStatus(err), Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			refreshErr.reconnect = re.ErrorCode == "invalid_grant" || refreshErr.StatusCode == http.StatusUnauthorized
		}
		return nil, refreshErr
	}

	return tokensFrom(tok), nil
}

// Revoke invalidates an access token. It is best-effort: failures are
// logged and never returned.
func (c *OAuthClient) Revoke(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}

	form := url.Values{}
	form.Set("token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthBaseURL+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Warn("failed to build revoke request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("token revocation request failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("token revocation rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return
	}

	c.logger.Debug("access token revoked")
}

func (c *OAuthClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func tokensFrom(tok *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:     tok.AccessToken,
		RefreshToken:    tok.RefreshToken,
		OrganizationURI: extraString(tok, "organization"),
		OwnerURI:        extraString(tok, "owner"),
		ExpiresAt:       tok.Expiry,
	}
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}
