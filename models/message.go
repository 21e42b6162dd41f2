package models

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Reaction struct {
	Emoji    string               `bson:"emoji" json:"emoji"`
	Reactors []primitive.ObjectID `bson:"reactors" json:"reactors"`
}

// Message is embedded in a Conversation. CreatedAt is Unix milliseconds.
type Message struct {
	ID        primitive.ObjectID   `bson:"_id" json:"id"`
	SenderID  primitive.ObjectID   `bson:"senderId" json:"senderId"`
	Content   string               `bson:"content,omitempty" json:"content,omitempty"`
	Media     []string             `bson:"media" json:"media"`
	SeenBy    []primitive.ObjectID `bson:"seenBy" json:"seenBy"`
	Reactions []Reaction           `bson:"reactions,omitempty" json:"reactions,omitempty"`
	CreatedAt int64                `bson:"createdAt" json:"createdAt"`
}

// MarshalJSON renders a missing media list as [] so stored and freshly sent
// messages look the same.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Media == nil {
		m.Media = []string{}
	}
	return json.Marshal(plain(m))
}

// NewMessage returns a message the sender has already seen.
func NewMessage(senderID primitive.ObjectID, content string, media []string) Message {
	if media == nil {
		media = []string{}
	}
	return Message{
		ID:       primitive.NewObjectID(),
		SenderID: senderID,
		Content:  content,
		Media:    media,
		SeenBy:   []primitive.ObjectID{senderID},
	}
}

// UnseenBy reports whether userID still has to acknowledge m.
func (m *Message) UnseenBy(userID primitive.ObjectID) bool {
	return m.SenderID != userID && !containsID(m.SeenBy, userID)
}

// MarkSeen adds userID to SeenBy when the message is unseen by them.
func (m *Message) MarkSeen(userID primitive.ObjectID) bool {
	if !m.UnseenBy(userID) {
		return false
	}
	m.SeenBy = append(m.SeenBy, userID)
	return true
}

// ToggleReaction adds userID to the emoji's reactors, or removes them if
// already present. Empty reactions are dropped.
func (m *Message) ToggleReaction(userID primitive.ObjectID, emoji string) {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		if idx := indexOfID(r.Reactors, userID); idx >= 0 {
			r.Reactors = append(r.Reactors[:idx], r.Reactors[idx+1:]...)
			if len(r.Reactors) == 0 {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			}
			return
		}
		r.Reactors = append(r.Reactors, userID)
		return
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, Reactors: []primitive.ObjectID{userID}})
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Media = append([]string{}, m.Media...)
	out.SeenBy = append([]primitive.ObjectID{}, m.SeenBy...)
	if m.Reactions != nil {
		out.Reactions = make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			out.Reactions[i] = Reaction{Emoji: r.Emoji, Reactors: append([]primitive.ObjectID{}, r.Reactors...)}
		}
	}
	return out
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	return indexOfID(ids, id) >= 0
}

func indexOfID(ids []primitive.ObjectID, id primitive.ObjectID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
