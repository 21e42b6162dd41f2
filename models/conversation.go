package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FallbackAvatar is shown when a user or conversation has no image.
const FallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"

// TypeDirect marks a 1:1 conversation.
const TypeDirect = ""

type Member struct {
	UserID  primitive.ObjectID `bson:"userId" json:"userId"`
	IsMuted bool               `bson:"isMuted" json:"isMuted"`
}

type Conversation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Members   []Member           `bson:"members" json:"members"`
	Type      string             `bson:"type" json:"type"`
	ContextID string             `bson:"contextId,omitempty" json:"contextId,omitempty"`
	Title     string             `bson:"title,omitempty" json:"title,omitempty"`
	Thumbnail string             `bson:"thumbnail" json:"thumbnail"`
	DirectKey string             `bson:"directKey,omitempty" json:"-"`
	Messages  []Message          `bson:"messages" json:"messages"`
	Version   int64              `bson:"version" json:"-"`
	CreatedAt int64              `bson:"createdAt" json:"createdAt"`
	UpdatedAt int64              `bson:"updatedAt" json:"updatedAt"`
}

// DirectKey is the same for (a, b) and (b, a).
func DirectKey(a, b primitive.ObjectID) string {
	x, y := a.Hex(), b.Hex()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// NewDirectConversation builds an empty 1:1 conversation.
func NewDirectConversation(a, b primitive.ObjectID, now int64) Conversation {
	return Conversation{
		ID:        primitive.NewObjectID(),
		Members:   []Member{{UserID: a}, {UserID: b}},
		Type:      TypeDirect,
		Thumbnail: FallbackAvatar,
		DirectKey: DirectKey(a, b),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Conversation) IsDirect() bool {
	return c.Type == TypeDirect
}

func (c *Conversation) Member(userID primitive.ObjectID) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (c *Conversation) HasMember(userID primitive.ObjectID) bool {
	_, ok := c.Member(userID)
	return ok
}

// Recipients returns every member except senderID, in member order.
func (c *Conversation) Recipients(senderID primitive.ObjectID) []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.UserID != senderID {
			out = append(out, m)
		}
	}
	return out
}

// Counterpart is the other member of a direct conversation.
func (c *Conversation) Counterpart(userID primitive.ObjectID) (primitive.ObjectID, bool) {
	if !c.IsDirect() {
		return primitive.NilObjectID, false
	}
	for _, m := range c.Members {
		if m.UserID != userID {
			return m.UserID, true
		}
	}
	return primitive.NilObjectID, false
}

func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// TailCreatedAt is the creation time of the newest message, or 0.
func (c *Conversation) TailCreatedAt() int64 {
	if last := c.LastMessage(); last != nil {
		return last.CreatedAt
	}
	return 0
}

// MarkSeen applies the seen rule to every message and reports a change.
func (c *Conversation) MarkSeen(userID primitive.ObjectID) bool {
	changed := false
	for i := range c.Messages {
		if c.Messages[i].MarkSeen(userID) {
			changed = true
		}
	}
	return changed
}

// HasUnseenTail applies the unseen rule to the newest message only.
func (c *Conversation) HasUnseenTail(userID primitive.ObjectID) bool {
	last := c.LastMessage()
	return last != nil && last.UnseenBy(userID)
}

func (c *Conversation) FindMessage(id primitive.ObjectID) (*Message, bool) {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i], true
		}
	}
	return nil, false
}

func (c *Conversation) MemberIDs() []primitive.ObjectID {
	ids := make([]primitive.ObjectID, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.UserID
	}
	return ids
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Members = append([]Member{}, c.Members...)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Window keeps at most limit messages, ending skip messages before the newest.
func Window(messages []Message, limit, skip int) []Message {
	if skip < 0 {
		skip = 0
	}
	end := len(messages) - skip
	if end <= 0 {
		return []Message{}
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return messages[start:end]
}
