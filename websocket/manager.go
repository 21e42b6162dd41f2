package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"clinicmsg/logger"
	"clinicmsg/middleware"
	"clinicmsg/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	eventTimeout   = 10 * time.Second
	sendBuffer     = 256
)

var (
	errClosed       = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

// frame is the envelope of every message on the socket in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Manager upgrades authenticated requests and tracks their clients.
type Manager struct {
	handler  *realtime.Handler
	secret   string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	manager *Manager
	session *realtime.Session
}

func NewManager(handler *realtime.Handler, secret string, allowedOrigins []string) *Manager {
	m := &Manager{
		handler: handler,
		secret:  secret,
		clients: make(map[string]*Client),
	}
	m.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(allowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.TokenFromRequest(r)
	if err != nil {
		logger.Warn().Str("remote", r.RemoteAddr).Msg("websocket connection rejected: no token provided")
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}
	userID, err := middleware.ParseToken(m.secret, token)
	if err != nil {
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket connection rejected: invalid token")
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		manager: m,
	}
	client.session = m.handler.NewSession(client, userID)

	m.mu.Lock()
	m.clients[client.id] = client
	m.mu.Unlock()
	logger.Info().Str("userId", userID).Str("connId", client.id).Int("clients", m.Connected()).Msg("websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (m *Manager) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Close drops every client. Their read pumps unregister them.
func (m *Manager) Close() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (m *Manager) remove(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.id)
	m.mu.Unlock()
}

func (c *Client) ID() string { return c.id }

// Emit queues an event without blocking. A client whose buffer is full
// misses the event.
func (c *Client) Emit(event string, payload any) error {
	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClosed
	default:
		return errSlowConsumer
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.manager.handler.Disconnect(c.session)
		c.manager.remove(c)
		c.close()
		logger.Info().Str("userId", c.session.UserID()).Str("connId", c.id).Msg("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Str("connId", c.id).Msg("websocket read error")
			}
			return
		}

		var in frame
		if err := json.Unmarshal(message, &in); err != nil || in.Event == "" {
			logger.Debug().Str("connId", c.id).Msg("dropping malformed websocket frame")
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in frame) {
	if in.Event == "ping" {
		c.Emit("pong", map[string]int64{"time": time.Now().UnixMilli()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	data, err := c.manager.handler.Dispatch(ctx, c.session, in.Event, in.Data)
	switch {
	case in.Ack != "":
		c.Emit("ack", realtime.NewAck(in.Ack, data, err))
	case err != nil:
		c.Emit("error", realtime.NewAck("", nil, err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
