package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Provider defines the interface for all notification providers
type Provider interface {
	// Name returns the unique identifier for this provider
	Name() string

	// Send sends a notification with the given message
	Send(ctx context.Context, target *Target, message *Message) error

	// Validate validates the provider configuration
	Validate(config map[string]interface{}) error
}

// Target is a configured notification destination
type Target struct {
	Name   string                 `json:"name"`
	Type   string                 `json:"type"` // webhook
	Config map[string]interface{} `json:"config"`
}

// Message describes one booking change
type Message struct {
	Event             string     `json:"event"`
	BookingID         string     `json:"booking_id"`
	ExternalEventURI  string     `json:"external_event_uri"`
	Title             string     `json:"title"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	HostProfileID     string     `json:"host_profile_id"`
	AttendeeProfileID string     `json:"attendee_profile_id,omitempty"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	Time              time.Time  `json:"time"`
}

var (
	providers = make(map[string]Provider)
	mu        sync.RWMutex
)

// RegisterProvider registers a new notification provider
func RegisterProvider(provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers[provider.Name()] = provider
}

// GetProvider returns a provider by name
func GetProvider(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	provider, ok := providers[name]
	return provider, ok
}

// FormatMessage renders a one-line human summary of msg
func FormatMessage(msg *Message) string {
	var b strings.Builder
	switch msg.Status {
	case "CANCELED":
		b.WriteString("Booking canceled: ")
	default:
		b.WriteString("Booking scheduled: ")
	}

	title := msg.Title
	if title == "" {
		title = "Untitled meeting"
	}
	b.WriteString(title)
	fmt.Fprintf(&b, " (%s - %s UTC)",
		msg.StartTime.UTC().Format("2006-01-02 15:04"),
		msg.EndTime.UTC().Format("15:04"))
	return b.String()
}
