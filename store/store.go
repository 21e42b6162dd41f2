package store

import (
	"context"

	"clinicmsg/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxAppendAttempts bounds the optimistic retry loops of AppendMessage
// and ToggleReaction.
const maxAppendAttempts = 5

type Page struct {
	Limit int
	Skip  int
}

type ListOptions struct {
	RequireNonEmpty bool
}

type NewConversation struct {
	Type      string
	ContextID string
	Title     string
	Thumbnail string
	Members   []primitive.ObjectID
}

// ConversationStore persists conversations and their embedded messages.
// Lookups of missing or inaccessible conversations fail with NOT_FOUND.
type ConversationStore interface {
	FindDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error)
	// CreateDirectConversation returns the existing conversation when one
	// already exists for the pair.
	CreateDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, in NewConversation) (*models.Conversation, error)
	// FindConversation loads id with a recent message window. A non-zero
	// viewer must be a member.
	FindConversation(ctx context.Context, id, viewer primitive.ObjectID, page Page) (*models.Conversation, error)
	FindMessage(ctx context.Context, conversationID, messageID primitive.ObjectID) (*models.Message, error)
	// AppendMessage stores msg after the current tail. CreatedAt never
	// decreases within a conversation.
	AppendMessage(ctx context.Context, conversationID primitive.ObjectID, msg models.Message) (*models.Conversation, *models.Message, error)
	MarkSeenForUser(ctx context.Context, conversationID, userID primitive.ObjectID) (bool, error)
	ListConversationsForUser(ctx context.Context, userID primitive.ObjectID, opts ListOptions) ([]models.Summary, error)
	UnseenConversationsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Summary, error)
	AddMember(ctx context.Context, conversationID, userID primitive.ObjectID) (*models.Conversation, error)
	SetMuted(ctx context.Context, conversationID, userID primitive.ObjectID, muted bool) error
	// ToggleReaction adds or removes userID's emoji on a message as one
	// update and returns the message as stored.
	ToggleReaction(ctx context.Context, conversationID, messageID, userID primitive.ObjectID, emoji string) (*models.Message, error)
}

type UserStore interface {
	FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
	SetActivity(ctx context.Context, id primitive.ObjectID, online bool, at int64) error
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub models.PushSubscription) error
	FindSubscription(ctx context.Context, userID primitive.ObjectID) (*models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, userID primitive.ObjectID) error
}

func profileIndex(users []models.User) map[primitive.ObjectID]*models.User {
	out := make(map[primitive.ObjectID]*models.User, len(users))
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out
}

func nextCreatedAt(now, tail int64) int64 {
	if now < tail {
		return tail
	}
	return now
}
