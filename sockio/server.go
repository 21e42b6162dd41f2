package sockio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"clinicmsg/logger"
	"clinicmsg/messaging"
	"clinicmsg/middleware"
	"clinicmsg/realtime"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

const (
	namespace    = "/"
	eventTimeout = 10 * time.Second
)

// conn adapts a socket.io connection to presence.Conn.
type conn struct {
	s socketio.Conn
}

func (c conn) ID() string { return c.s.ID() }

func (c conn) Emit(event string, payload any) error {
	c.s.Emit(event, payload)
	return nil
}

// NewServer serves the realtime protocol for Socket.IO clients.
func NewServer(handler *realtime.Handler, secret string) *socketio.Server {
	checkOrigin := func(r *http.Request) bool { return true }
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: checkOrigin},
			&polling.Transport{CheckOrigin: checkOrigin},
		},
	})

	server.OnConnect(namespace, func(s socketio.Conn) error {
		url := s.URL()
		token := url.Query().Get("token")
		if token == "" {
			logger.Warn().Str("socketId", s.ID()).Msg("socket connection rejected: no token provided")
			return fmt.Errorf("authentication required")
		}

		userID, err := middleware.ParseToken(secret, token)
		if err != nil {
			logger.Warn().Str("socketId", s.ID()).Msg("socket connection rejected: invalid token")
			return fmt.Errorf("invalid token")
		}

		s.SetContext(handler.NewSession(conn{s: s}, userID))
		logger.Info().Str("socketId", s.ID()).Str("userId", userID).Msg("socket authenticated")
		return nil
	})

	for _, event := range []string{messaging.EventAddUser, messaging.EventSendMessage, messaging.EventMessageSeen} {
		server.OnEvent(namespace, event, eventHandler(handler, event))
	}

	server.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		if session, ok := s.Context().(*realtime.Session); ok {
			handler.Disconnect(session)
			logger.Info().Str("socketId", s.ID()).Str("userId", session.UserID()).Str("reason", reason).Msg("socket closed")
		}
	})

	server.OnError(namespace, func(s socketio.Conn, e error) {
		logger.Warn().Err(e).Msg("socket error")
	})

	return server
}

func eventHandler(handler *realtime.Handler, event string) func(socketio.Conn, interface{}) realtime.Ack {
	return func(s socketio.Conn, payload interface{}) realtime.Ack {
		session, ok := s.Context().(*realtime.Session)
		if !ok {
			return realtime.NewAck("", nil, fmt.Errorf("socket %s has no session", s.ID()))
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return realtime.NewAck("", nil, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()

		result, err := handler.Dispatch(ctx, session, event, data)
		if err != nil {
			logger.Debug().Err(err).Str("event", event).Str("userId", session.UserID()).Msg("socket event rejected")
		}
		return realtime.NewAck("", result, err)
	}
}
