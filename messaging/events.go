package messaging

import (
	"clinicmsg/models"
)

// Real-time event names shared by every transport.
const (
	EventAddUser             = "addUser"
	EventSendMessage         = "sendMessage"
	EventGetMessage          = "getMessage"
	EventMessageSeen         = "messageSeen"
	EventMessageReaction     = "messageReaction"
	EventConversationUpdated = "conversationUpdated"
)

// MessageEvent is the getMessage payload: the stored message plus the
// conversation it belongs to.
type MessageEvent struct {
	ConversationID string `json:"conversationId"`
	models.Message
}

type SeenEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type ReactionEvent struct {
	ConversationID string            `json:"conversationId"`
	MessageID      string            `json:"messageId"`
	UserID         string            `json:"userId"`
	Reactions      []models.Reaction `json:"reactions"`
}

type ConversationEvent struct {
	Conversation *models.Conversation `json:"conversation"`
}
