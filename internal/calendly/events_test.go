package calendly

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createdPayload = `{
	"email": "invitee@example.com",
	"name": "Invitee",
	"uri": "https://api.calendly.com/scheduled_events/EV1/invitees/INV1",
	"event": "https://api.calendly.com/scheduled_events/EV1",
	"scheduled_event": {
		"uri": "https://api.calendly.com/scheduled_events/EV1",
		"name": "30 Minute Meeting",
		"start_time": "2026-10-20T15:00:00.000000Z",
		"end_time": "2026-10-20T15:30:00.000000Z",
		"event_memberships": [
			{"user": "https://api.calendly.com/users/cal_123", "user_email": "host@example.com"}
		]
	}
}`

func TestParseEvent_Created(t *testing.T) {
	ev, err := ParseEvent(EventInviteeCreated, json.RawMessage(createdPayload))
	require.NoError(t, err)

	created, ok := ev.(InviteeCreated)
	require.True(t, ok)
	assert.Equal(t, "https://api.calendly.com/scheduled_events/EV1", created.URI)
	assert.Equal(t, "30 Minute Meeting", created.Name)
	assert.Equal(t, time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC), created.StartTime)
	assert.Equal(t, time.Date(2026, 10, 20, 15, 30, 0, 0, time.UTC), created.EndTime)
	assert.Equal(t, []string{"https://api.calendly.com/users/cal_123"}, created.HostURIs)
	assert.Equal(t, "invitee@example.com", created.InviteeEmail)
	assert.Equal(t, EventInviteeCreated, ev.EventType())
}

func TestParseEvent_Canceled(t *testing.T) {
	ev, err := ParseEvent(EventInviteeCanceled, json.RawMessage(createdPayload))
	require.NoError(t, err)
	assert.Equal(t, InviteeCanceled{URI: "https://api.calendly.com/scheduled_events/EV1"}, ev)

	ev, err = ParseEvent(EventInviteeCanceled, json.RawMessage(`{"event":"https://api.calendly.com/scheduled_events/EV2"}`))
	require.NoError(t, err)
	assert.Equal(t, "https://api.calendly.com/scheduled_events/EV2", ev.ScheduledEventURI())
}

func TestParseEvent_Unrecognized(t *testing.T) {
	ev, err := ParseEvent("routing_form_submission.created", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Unrecognized{Type: "routing_form_submission.created"}, ev)
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := map[string]struct {
		eventType string
		payload   string
	}{
		"not json":         {EventInviteeCreated, `[`},
		"no event":         {EventInviteeCreated, `{"email":"a@b.c"}`},
		"no start":         {EventInviteeCreated, `{"scheduled_event":{"uri":"u","end_time":"2026-10-20T15:30:00Z","event_memberships":[{"user":"h"}]}}`},
		"bad end":          {EventInviteeCreated, `{"scheduled_event":{"uri":"u","start_time":"2026-10-20T15:00:00Z","end_time":"tomorrow","event_memberships":[{"user":"h"}]}}`},
		"end before start": {EventInviteeCreated, `{"scheduled_event":{"uri":"u","start_time":"2026-10-20T15:00:00Z","end_time":"2026-10-20T14:00:00Z","event_memberships":[{"user":"h"}]}}`},
		"no host":          {EventInviteeCreated, `{"scheduled_event":{"uri":"u","start_time":"2026-10-20T15:00:00Z","end_time":"2026-10-20T15:30:00Z","event_memberships":[]}}`},
		"cancel no uri":    {EventInviteeCanceled, `{"email":"a@b.c"}`},
		"cancel not json":  {EventInviteeCanceled, `"x"`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent(tc.eventType, json.RawMessage(tc.payload))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
