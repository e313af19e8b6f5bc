package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuomag9/schedsync/internal/booking"
	"github.com/fuomag9/schedsync/internal/models"
)

func testChange() booking.Change {
	title := "Intro call"
	attendee := uuid.New()
	return booking.Change{
		EventType: "invitee.created",
		Booking: models.Booking{
			ID:                uuid.New(),
			ExternalEventURI:  "https://api.calendly.com/scheduled_events/EV1",
			Title:             &title,
			StartTime:         time.Date(2026, 10, 20, 15, 0, 0, 0, time.UTC),
			EndTime:           time.Date(2026, 10, 20, 15, 30, 0, 0, time.UTC),
			HostProfileID:     uuid.New(),
			AttendeeProfileID: &attendee,
			Status:            models.BookingActive,
		},
	}
}

func webhookTarget(url string) *Target {
	return &Target{
		Name: "ops",
		Type: "webhook",
		Config: map[string]interface{}{
			"webhook_url":           url,
			"headers":               map[string]interface{}{"X-Token": "abc"},
			"allow_private_network": true,
		},
	}
}

func TestNewDispatcher_ValidatesTargets(t *testing.T) {
	_, err := NewDispatcher([]*Target{{Name: "x", Type: "carrier-pigeon"}}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown notification provider")

	_, err = NewDispatcher([]*Target{webhookTarget("ftp://example.com")}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewDispatcher([]*Target{webhookTarget("https://example.com/hook")}, zap.NewNop())
	assert.NoError(t, err)
}

func TestNotify_PostsBookingChange(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
	}))
	defer srv.Close()

	d, err := NewDispatcher([]*Target{webhookTarget(srv.URL)}, zap.NewNop())
	require.NoError(t, err)

	change := testChange()
	require.NoError(t, d.Notify(context.Background(), MessageFromChange(change)))

	body := <-received
	assert.Equal(t, "invitee.created", body["event"])
	assert.Equal(t, change.Booking.ExternalEventURI, body["external_event_uri"])
	assert.Equal(t, "ACTIVE", body["status"])
	assert.Equal(t, change.Booking.AttendeeProfileID.String(), body["attendee_profile_id"])
	assert.Equal(t, "Booking scheduled: Intro call (2026-10-20 15:00 - 15:30 UTC)", body["text"])
}

func TestNotify_BlocksPrivateDestinations(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	target := webhookTarget(srv.URL)
	delete(target.Config, "allow_private_network")

	// literal loopback is caught up front
	_, err := NewDispatcher([]*Target{target}, zap.NewNop())
	assert.ErrorContains(t, err, "loopback")

	// and at dial time when the check is bypassed
	d := &Dispatcher{targets: []*Target{target}, logger: zap.NewNop()}
	err = d.Notify(context.Background(), MessageFromChange(testChange()))
	assert.Error(t, err)
	assert.False(t, called)
}

func TestURLGuard_CheckURL(t *testing.T) {
	strict := NewURLGuard(false)
	lenient := NewURLGuard(true)

	tests := []struct {
		url          string
		strictOK     bool
		permissiveOK bool
	}{
		{"https://hooks.example.com/booking", true, true},
		{"ftp://example.com", false, false},
		{"https://", false, false},
		{"http://localhost:8080/hook", false, true},
		{"http://127.0.0.1/hook", false, true},
		{"http://10.1.2.3/hook", false, true},
		{"http://192.168.1.10/hook", false, true},
		{"http://[::1]/hook", false, true},
		{"http://169.254.169.254/latest/meta-data", false, false},
		{"http://0.0.0.0/", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.strictOK, strict.CheckURL(tt.url) == nil)
			assert.Equal(t, tt.permissiveOK, lenient.CheckURL(tt.url) == nil)
		})
	}
}

func TestNotify_ReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewDispatcher([]*Target{webhookTarget(srv.URL)}, zap.NewNop())
	require.NoError(t, err)

	err = d.Notify(context.Background(), MessageFromChange(testChange()))
	assert.ErrorContains(t, err, "failed to send 1/1 notifications")
}

func TestBookingSynced_SendsInBackground(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer srv.Close()

	d, err := NewDispatcher([]*Target{webhookTarget(srv.URL)}, zap.NewNop())
	require.NoError(t, err)

	d.BookingSynced(context.Background(), testChange())

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestBookingSynced_NoTargets(t *testing.T) {
	d, err := NewDispatcher(nil, zap.NewNop())
	require.NoError(t, err)
	assert.NotPanics(t, func() { d.BookingSynced(context.Background(), testChange()) })
}

func TestFormatMessage(t *testing.T) {
	msg := MessageFromChange(testChange())
	msg.Status = "CANCELED"
	msg.Title = ""
	assert.Equal(t, "Booking canceled: Untitled meeting (2026-10-20 15:00 - 15:30 UTC)", FormatMessage(msg))
}
