package calendly

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a validated webhook event. Concrete types are InviteeCreated,
// InviteeCanceled and Unrecognized.
type Event interface {
	EventType() string
	ScheduledEventURI() string
}

// InviteeCreated is a booking (or rebooking) of a scheduled event
type InviteeCreated struct {
	URI          string
	Name         string
	StartTime    time.Time
	EndTime      time.Time
	HostURIs     []string
	InviteeEmail string
}

func (e InviteeCreated) EventType() string         { return EventInviteeCreated }
func (e InviteeCreated) ScheduledEventURI() string { return e.URI }

// InviteeCanceled is a cancellation of a scheduled event
type InviteeCanceled struct {
	URI string
}

func (e InviteeCanceled) EventType() string         { return EventInviteeCanceled }
func (e InviteeCanceled) ScheduledEventURI() string { return e.URI }

// Unrecognized is any event type this integration does not handle
type Unrecognized struct {
	Type string
}

func (e Unrecognized) EventType() string         { return e.Type }
func (e Unrecognized) ScheduledEventURI() string { return "" }

type inviteePayload struct {
	Email          string          `json:"email"`
	Event          string          `json:"event"`
	ScheduledEvent *scheduledEvent `json:"scheduled_event"`
}

type scheduledEvent struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	Memberships []membership `json:"event_memberships"`
}

type membership struct {
	User string `json:"user"`
}

// ParseEvent validates a webhook payload for the given event type
func ParseEvent(eventType string, payload json.RawMessage) (Event, error) {
	switch eventType {
	case EventInviteeCreated:
		return parseCreated(payload)
	case EventInviteeCanceled:
		return parseCanceled(payload)
	default:
		return Unrecognized{Type: eventType}, nil
	}
}

func parseCreated(raw json.RawMessage) (Event, error) {
	var p inviteePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ScheduledEvent == nil {
		return nil, fmt.Errorf("%w: scheduled_event is required", ErrMalformedPayload)
	}

	ev := p.ScheduledEvent
	uri := firstNonEmpty(ev.URI, p.Event)
	if uri == "" {
		return nil, fmt.Errorf("%w: scheduled event uri is required", ErrMalformedPayload)
	}

	start, err := parseInstant("start_time", ev.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseInstant("end_time", ev.EndTime)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_time precedes start_time", ErrMalformedPayload)
	}

	var hosts []string
	for _, m := range ev.Memberships {
		if u := strings.TrimSpace(m.User); u != "" {
			hosts = append(hosts, u)
		}
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("%w: event_memberships has no host", ErrMalformedPayload)
	}

	return InviteeCreated{
		URI:          uri,
		Name:         strings.TrimSpace(ev.Name),
		StartTime:    start,
		EndTime:      end,
		HostURIs:     hosts,
		InviteeEmail: strings.TrimSpace(p.Email),
	}, nil
}

func parseCanceled(raw json.RawMessage) (Event, error) {
	var p inviteePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	uri := p.Event
	if p.ScheduledEvent != nil {
		uri = firstNonEmpty(p.ScheduledEvent.URI, uri)
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: scheduled event uri is required", ErrMalformedPayload)
	}

	return InviteeCanceled{URI: uri}, nil
}

func parseInstant(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrMalformedPayload, field)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, field, err)
	}
	return t.UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
