package calendly

import (
	"errors"
	"fmt"
)

var (
	// ErrReconnectRequired marks a refresh token the provider no longer accepts.
	ErrReconnectRequired = errors.New("calendly: refresh token rejected, reconnect required")
	// ErrMalformedPayload is returned for webhook payloads missing required fields.
	ErrMalformedPayload = errors.New("calendly: malformed webhook payload")
)

// ExchangeError is returned when the authorization code exchange fails
type ExchangeError struct {
	StatusCode int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("calendly: code exchange failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("calendly: code exchange failed: %v", e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// RefreshError is returned when a token refresh fails
type RefreshError struct {
	StatusCode int
	Err        error
	reconnect  bool
}

func (e *RefreshError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("calendly: token refresh failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("calendly: token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is matches ErrReconnectRequired when the provider rejected the refresh token itself.
func (e *RefreshError) Is(target error) bool {
	return target == ErrReconnectRequired && e.reconnect
}

// IdentityError is returned when the current user cannot be fetched
type IdentityError struct {
	StatusCode int
	Err        error
}

func (e *IdentityError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("calendly: identity fetch failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("calendly: identity fetch failed: %v", e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// SubscriptionError is returned when the provider rejects a webhook subscription call
type SubscriptionError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *SubscriptionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("calendly: %s webhook subscription failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("calendly: %s webhook subscription failed: %v", e.Op, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
