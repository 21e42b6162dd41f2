package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/messaging"
	"clinicmsg/presence"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Presence is the slice of the registry sessions need.
type Presence interface {
	Register(userID string, c presence.Conn)
	Remove(connID string)
}

type Messenger interface {
	MarkSeen(ctx context.Context, conversationID, userID primitive.ObjectID) (bool, error)
	Relay(ctx context.Context, senderID, conversationID, messageID primitive.ObjectID) (int, error)
}

// Handler interprets inbound real-time events for every transport.
type Handler struct {
	presence  Presence
	messenger Messenger
}

func NewHandler(p Presence, m Messenger) *Handler {
	return &Handler{presence: p, messenger: m}
}

// Session is one authenticated connection. It only accepts events after
// addUser has registered it.
type Session struct {
	conn   presence.Conn
	userID string

	mu         sync.Mutex
	registered bool
}

func (h *Handler) NewSession(conn presence.Conn, userID string) *Session {
	return &Session{conn: conn, userID: userID}
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) isRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

type seenRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type relayRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ID             string `json:"id"`
}

// Dispatch handles one inbound event and returns the ack payload.
func (h *Handler) Dispatch(ctx context.Context, s *Session, event string, data json.RawMessage) (any, error) {
	if event == messaging.EventAddUser {
		return h.addUser(s, data)
	}
	if !s.isRegistered() {
		return nil, apperr.Forbidden("addUser must be sent first", nil)
	}

	switch event {
	case messaging.EventSendMessage:
		return h.relay(ctx, s, data)
	case messaging.EventMessageSeen:
		return h.seen(ctx, s, data)
	default:
		return nil, apperr.BadRequest("unknown event "+event, nil)
	}
}

func (h *Handler) addUser(s *Session, data json.RawMessage) (any, error) {
	userID := decodeUserID(data)
	if userID == "" {
		return nil, apperr.BadRequest("userId is required", nil)
	}
	if userID != s.userID {
		return nil, apperr.Forbidden("userId does not match the authenticated user", nil)
	}

	h.presence.Register(s.userID, s.conn)
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	logger.Debug().Str("userId", s.userID).Str("connId", s.conn.ID()).Msg("connection registered")
	return map[string]string{"userId": s.userID}, nil
}

// decodeUserID accepts a bare JSON string or {"userId": "..."}.
func decodeUserID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.UserID
	}
	return ""
}

func (h *Handler) relay(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	var req relayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperr.BadRequest("invalid sendMessage payload", err)
	}
	if req.MessageID == "" {
		req.MessageID = req.ID
	}

	sender, err := parseID(s.userID, "user id")
	if err != nil {
		return nil, err
	}
	convID, err := parseID(req.ConversationID, "conversationId")
	if err != nil {
		return nil, err
	}
	msgID, err := parseID(req.MessageID, "messageId")
	if err != nil {
		return nil, err
	}

	delivered, err := h.messenger.Relay(ctx, sender, convID, msgID)
	if err != nil {
		return nil, err
	}
	return map[string]int{"delivered": delivered}, nil
}

func (h *Handler) seen(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	var req seenRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperr.BadRequest("invalid messageSeen payload", err)
	}
	if req.UserID != "" && req.UserID != s.userID {
		return nil, apperr.Forbidden("userId does not match the authenticated user", nil)
	}

	userID, err := parseID(s.userID, "user id")
	if err != nil {
		return nil, err
	}
	convID, err := parseID(req.ConversationID, "conversationId")
	if err != nil {
		return nil, err
	}

	changed, err := h.messenger.MarkSeen(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"changed": changed}, nil
}

// Disconnect removes the session's connection from presence.
func (h *Handler) Disconnect(s *Session) {
	h.presence.Remove(s.conn.ID())
}

func parseID(hex, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.BadRequest("invalid "+field, err)
	}
	return id, nil
}
