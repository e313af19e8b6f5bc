// Package websocket pushes booking changes to the profiles they involve.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/fuomag9/schedsync/internal/booking"
	"github.com/fuomag9/schedsync/internal/session"
)

// MessageBookingSynced is pushed after a booking is written
const MessageBookingSynced = "booking.synced"

const writeTimeout = 10 * time.Second

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client is one authenticated connection
type Client struct {
	ProfileID uuid.UUID
	Conn      *websocket.Conn
	Hub       *Hub
	Send      chan []byte
}

type delivery struct {
	profiles []uuid.UUID
	data     []byte
}

// Hub tracks connected clients and routes messages to their profiles
type Hub struct {
	clients        map[*Client]bool
	deliver        chan delivery
	register       chan *Client
	unregister     chan *Client
	done           chan struct{}
	mu             sync.RWMutex
	jwtSecret      string
	allowedOrigins []string
	logger         *zap.Logger
}

// NewHub creates a new Hub
func NewHub(jwtSecret string, allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		deliver:        make(chan delivery, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		jwtSecret:      jwtSecret,
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("websocket"),
	}
}

// Run routes messages until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
				go client.Conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("profile_id", client.ProfileID.String()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Debug("client disconnected", zap.String("profile_id", client.ProfileID.String()))
			}
			h.mu.Unlock()

		case d := <-h.deliver:
			h.mu.Lock()
			for client := range h.clients {
				if !containsProfile(d.profiles, client.ProfileID) {
					continue
				}
				select {
				case client.Send <- d.data:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToProfiles queues a message for the given profiles' clients
func (h *Hub) SendToProfiles(msgType string, payload interface{}, profiles ...uuid.UUID) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msgJSON, err := json.Marshal(Message{Type: msgType, Payload: payloadJSON})
	if err != nil {
		return err
	}

	select {
	case h.deliver <- delivery{profiles: profiles, data: msgJSON}:
	default:
		h.logger.Warn("delivery queue full, dropping message", zap.String("type", msgType))
	}
	return nil
}

// BookingSynced pushes the change to the booking's host and attendee
func (h *Hub) BookingSynced(_ context.Context, change booking.Change) {
	profiles := []uuid.UUID{change.Booking.HostProfileID}
	if change.Booking.AttendeeProfileID != nil {
		profiles = append(profiles, *change.Booking.AttendeeProfileID)
	}
	if err := h.SendToProfiles(MessageBookingSynced, change, profiles...); err != nil {
		h.logger.Error("failed to encode booking change", zap.Error(err))
	}
}

// HandleWebSocket authenticates and upgrades a connection. The session
// token comes from the token query parameter, the Authorization header or
// the session cookie.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = session.TokenFromRequest(r)
	}

	profileID, err := session.Parse(h.jwtSecret, token)
	if err != nil {
		h.logger.Info("websocket connection rejected", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	allowedOrigins := h.allowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"localhost:3000"}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originHosts(allowedOrigins),
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ProfileID: profileID,
		Conn:      conn,
		Hub:       h,
		Send:      make(chan []byte, 64),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads until the connection closes. Clients only send pings.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		_, data, err := c.Conn.Read(ctx)
		if err != nil {
			if !isNormalClosure(err) {
				c.Hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			c.Hub.reply(c, Message{Type: "pong", Payload: json.RawMessage(`{}`)})
		}
	}
}

// writePump writes queued messages until Send is closed
func (c *Client) writePump() {
	for message := range c.Send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			if !isNormalClosure(err) {
				c.Hub.logger.Debug("websocket write error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) reply(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func isNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}

// originHosts converts configured origins (full URLs) to the host
// patterns websocket.Accept matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func containsProfile(profiles []uuid.UUID, id uuid.UUID) bool {
	for _, p := range profiles {
		if p == id {
			return true
		}
	}
	return false
}
