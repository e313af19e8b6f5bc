package calendly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/config"
)

// Webhook event classes this integration subscribes to
const (
	EventInviteeCreated  = "invitee.created"
	EventInviteeCanceled = "invitee.canceled"
)

// User is the provider identity behind an access token
type User struct {
	URI             string `json:"uri"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	SchedulingURL   string `json:"scheduling_url"`
	OrganizationURI string `json:"current_organization"`
}

// Client calls the provider REST API on behalf of a connected user
type Client struct {
	baseURL    string
	signingKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an API client. The webhook signing key is required
// because every subscription is created with it.
func NewClient(cfg *config.CalendlyConfig, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, errors.New("calendly: webhook signing key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		signingKey: cfg.SigningKey,
		httpClient: httpClient,
		logger:     logger.Named("calendly.api"),
	}, nil
}

// CurrentUser fetches the identity of the token owner
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return nil, &IdentityError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &IdentityError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &IdentityError{StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	var body struct {
		Resource User `json:"resource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &IdentityError{Err: fmt.Errorf("decode user: %w", err)}
	}
	if body.Resource.URI == "" {
		return nil, &IdentityError{Err: errors.New("user response missing uri")}
	}

	return &body.Resource, nil
}

type createSubscriptionRequest struct {
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Organization string   `json:"organization"`
	User         string   `json:"user"`
	Scope        string   `json:"scope"`
	SigningKey   string   `json:"signing_key"`
}

// CreateSubscription registers a user-scoped webhook for invitee created
// and canceled events and returns the subscription uri.
func (c *Client) CreateSubscription(ctx context.Context, accessToken, callbackURL, organizationURI, userURI string) (string, error) {
	payload, err := json.Marshal(createSubscriptionRequest{
		URL:          callbackURL,
		Events:       []string{EventInviteeCreated, EventInviteeCanceled},
		Organization: organizationURI,
		User:         userURI,
		Scope:        "user",
		SigningKey:   c.signingKey,
	})
	if err != nil {
		return "", &SubscriptionError{Op: "create", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook_subscriptions", bytes.NewReader(payload))
	if err != nil {
		return "", &SubscriptionError{Op: "create", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubscriptionError{Op: "create", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubscriptionError{Op: "create", StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	var body struct {
		Resource struct {
			URI string `json:"uri"`
		} `json:"resource"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &SubscriptionError{Op: "create", Err: fmt.Errorf("decode subscription: %w", err)}
	}
	if body.Resource.URI == "" {
		return "", &SubscriptionError{Op: "create", Err: errors.New("subscription response missing uri")}
	}

	c.logger.Info("webhook subscription created",
		zap.String("subscription_uri", body.Resource.URI),
		zap.String("provider_user_uri", userURI),
	)
	return body.Resource.URI, nil
}

// DeleteSubscription removes a webhook subscription. A subscription that no
// longer exists counts as deleted.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionURI, accessToken string) error {
	if !strings.HasPrefix(subscriptionURI, c.baseURL+"/") {
		return &SubscriptionError{Op: "delete", Err: fmt.Errorf("subscription uri outside %s", c.baseURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, subscriptionURI, nil)
	if err != nil {
		return &SubscriptionError{Op: "delete", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SubscriptionError{Op: "delete", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("webhook subscription already gone", zap.String("subscription_uri", subscriptionURI))
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &SubscriptionError{Op: "delete", StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	c.logger.Info("webhook subscription deleted", zap.String("subscription_uri", subscriptionURI))
	return nil
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	if len(body) == 0 {
		return "empty response body"
	}
	return string(body)
}
