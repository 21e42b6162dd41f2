package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Summary is the list-view projection of a conversation for one viewer.
type Summary struct {
	ID          primitive.ObjectID `json:"id"`
	Type        string             `json:"type"`
	ContextID   string             `json:"contextId,omitempty"`
	Title       string             `json:"title"`
	Thumbnail   string             `json:"thumbnail"`
	Members     []Member           `json:"members"`
	LastMessage *Message           `json:"lastMessage"`
	Unseen      bool               `json:"unseen"`
	UpdatedAt   int64              `json:"updatedAt"`
}

// Summarize projects conv for viewer. Direct conversations show the other
// member; typed ones show their own title and thumbnail. profiles may be
// incomplete.
func Summarize(conv *Conversation, viewer primitive.ObjectID, profiles map[primitive.ObjectID]*User) Summary {
	s := Summary{
		ID:        conv.ID,
		Type:      conv.Type,
		ContextID: conv.ContextID,
		Members:   conv.Members,
		Unseen:    conv.HasUnseenTail(viewer),
		UpdatedAt: conv.UpdatedAt,
	}
	if last := conv.LastMessage(); last != nil {
		msg := last.Clone()
		s.LastMessage = &msg
	}

	if conv.IsDirect() {
		other, _ := conv.Counterpart(viewer)
		profile := profiles[other]
		s.Title = profile.DisplayName()
		s.Thumbnail = profile.DisplayAvatar()
		return s
	}

	s.Title = conv.Title
	if s.Title == "" {
		s.Title = conv.Type
	}
	s.Thumbnail = conv.Thumbnail
	if s.Thumbnail == "" {
		s.Thumbnail = FallbackAvatar
	}
	return s
}
