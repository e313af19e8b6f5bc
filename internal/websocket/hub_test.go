package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/fuomag9/schedsync/internal/booking"
	"github.com/fuomag9/schedsync/internal/models"
	"github.com/fuomag9/schedsync/internal/session"
)

const jwtSecret = "0123456789abcdef0123456789abcdef"

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(jwtSecret, []string{"http://localhost:3000"}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, profileID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := session.Issue(jwtSecret, profileID, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func change(host uuid.UUID, attendee *uuid.UUID) booking.Change {
	return booking.Change{
		EventType: "invitee.created",
		Booking: models.Booking{
			ID:                uuid.New(),
			ExternalEventURI:  "https://api.calendly.com/scheduled_events/" + uuid.NewString(),
			HostProfileID:     host,
			AttendeeProfileID: attendee,
			Status:            models.BookingActive,
		},
	}
}

func TestHandleWebSocket_RequiresSession(t *testing.T) {
	_, srv := startHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBookingSynced_ReachesHostAndAttendeeOnly(t *testing.T) {
	hub, srv := startHub(t)
	host, attendee, other := uuid.New(), uuid.New(), uuid.New()

	hostConn := dial(t, srv, host)
	attendeeConn := dial(t, srv, attendee)
	otherConn := dial(t, srv, other)
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, 5*time.Second, 10*time.Millisecond)

	c := change(host, &attendee)
	hub.BookingSynced(context.Background(), c)
	hub.BookingSynced(context.Background(), change(other, nil))

	for _, conn := range []*websocket.Conn{hostConn, attendeeConn} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageBookingSynced, msg.Type)
		var got booking.Change
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, c.Booking.ExternalEventURI, got.Booking.ExternalEventURI)
	}

	// the first message for other is its own booking, not the host's
	msg := readMessage(t, otherConn)
	var got booking.Change
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, other, got.Booking.HostProfileID)
}

func TestPingPong(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, uuid.New())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping","payload":{}}`)))

	assert.Equal(t, "pong", readMessage(t, conn).Type)
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t,
		[]string{"app.example.com", "localhost:3000", "*.example.org"},
		originHosts([]string{"https://app.example.com", "http://localhost:3000", "*.example.org"}))
}
