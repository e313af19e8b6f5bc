package models

import (
	"time"

	"github.com/google/uuid"
)

// CalendarAccount links an application profile to a Calendly user.
// Tokens are stored sealed; see the vault package.
type CalendarAccount struct {
	ProviderUserURI        string    `json:"provider_user_uri" gorm:"primaryKey"`
	ProfileID              uuid.UUID `json:"profile_id" gorm:"type:uuid;uniqueIndex;not null"`
	AccessTokenEncrypted   string    `json:"-" gorm:"not null"`
	RefreshTokenEncrypted  string    `json:"-" gorm:"not null"`
	TokenExpiresAt         time.Time `json:"token_expires_at"`
	SchedulingURL          string    `json:"scheduling_url"`
	WebhookSubscriptionURI *string   `json:"webhook_subscription_uri,omitempty"`
	OrganizationURI        string    `json:"organization_uri" gorm:"not null"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// TableName specifies the table name for CalendarAccount
func (CalendarAccount) TableName() string {
	return "calendar_accounts"
}

// HasSubscription reports whether the provider confirmed a webhook subscription.
func (a *CalendarAccount) HasSubscription() bool {
	return a.WebhookSubscriptionURI != nil && *a.WebhookSubscriptionURI != ""
}
