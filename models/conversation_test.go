package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDirectKeyIsSymmetric(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	assert.Equal(t, DirectKey(a, b), DirectKey(b, a), "expected the key not to depend on argument order")
	assert.NotEqual(t, DirectKey(a, b), DirectKey(a, primitive.NewObjectID()))
}

func TestMessageUnseenBy(t *testing.T) {
	sender, reader, other := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	msg := NewMessage(sender, "hello", nil)

	assert.False(t, msg.UnseenBy(sender), "expected the sender to have seen their own message")
	assert.True(t, msg.UnseenBy(reader))

	assert.True(t, msg.MarkSeen(reader))
	assert.False(t, msg.MarkSeen(reader), "expected a second mark to change nothing")
	assert.False(t, msg.UnseenBy(reader))
	assert.True(t, msg.UnseenBy(other))
	assert.Equal(t, []primitive.ObjectID{sender, reader}, msg.SeenBy)
}

func TestConversationMarkSeen(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	conv := NewDirectConversation(a, b, 1)
	conv.Messages = []Message{
		NewMessage(a, "one", nil),
		NewMessage(b, "two", nil),
		NewMessage(a, "three", nil),
	}

	assert.True(t, conv.MarkSeen(b))
	for _, m := range conv.Messages {
		assert.False(t, m.UnseenBy(b), "expected every message to be seen by b")
	}
	assert.Equal(t, []primitive.ObjectID{b}, conv.Messages[1].SeenBy, "expected b's own message to be untouched")
	assert.False(t, conv.MarkSeen(b), "expected marking twice to be a no-op")
}

func TestHasUnseenTailLooksAtLastMessageOnly(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	conv := NewDirectConversation(a, b, 1)
	assert.False(t, conv.HasUnseenTail(b), "expected an empty conversation to have nothing unseen")

	first := NewMessage(a, "skipped", nil)
	last := NewMessage(a, "latest", nil)
	last.SeenBy = append(last.SeenBy, b)
	conv.Messages = []Message{first, last}

	assert.False(t, conv.HasUnseenTail(b), "expected a seen tail to mean caught up")

	conv.Messages = append(conv.Messages, NewMessage(a, "new", nil))
	assert.True(t, conv.HasUnseenTail(b))
	assert.False(t, conv.HasUnseenTail(a))
}

func TestToggleReaction(t *testing.T) {
	u1, u2 := primitive.NewObjectID(), primitive.NewObjectID()
	msg := NewMessage(primitive.NewObjectID(), "hi", nil)

	msg.ToggleReaction(u1, "👍")
	msg.ToggleReaction(u2, "👍")
	msg.ToggleReaction(u1, "❤️")
	assert.Len(t, msg.Reactions, 2)
	assert.Equal(t, []primitive.ObjectID{u1, u2}, msg.Reactions[0].Reactors)

	msg.ToggleReaction(u1, "❤️")
	assert.Len(t, msg.Reactions, 1, "expected an emptied reaction to be dropped")

	msg.ToggleReaction(u1, "👍")
	assert.Equal(t, []primitive.ObjectID{u2}, msg.Reactions[0].Reactors)
}

func TestRecipientsExcludeSender(t *testing.T) {
	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	conv := Conversation{Type: "room", Members: []Member{{UserID: a}, {UserID: b, IsMuted: true}, {UserID: c}}}

	recipients := conv.Recipients(a)
	assert.Equal(t, []Member{{UserID: b, IsMuted: true}, {UserID: c}}, recipients)
}

func TestWindow(t *testing.T) {
	msgs := make([]Message, 10)
	for i := range msgs {
		msgs[i].CreatedAt = int64(i)
	}

	tcases := []struct {
		name        string
		limit, skip int
		first, n    int
	}{
		{"recent window", 3, 0, 7, 3},
		{"skip newest", 3, 2, 5, 3},
		{"limit larger than history", 50, 0, 0, 10},
		{"skip past start", 3, 9, 0, 1},
		{"skip everything", 3, 10, 0, 0},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			got := Window(msgs, tc.limit, tc.skip)
			assert.Len(t, got, tc.n)
			if tc.n > 0 {
				assert.Equal(t, int64(tc.first), got[0].CreatedAt)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	viewer, other := primitive.NewObjectID(), primitive.NewObjectID()

	direct := NewDirectConversation(viewer, other, 1)
	direct.Messages = []Message{NewMessage(other, "hi", nil)}

	s := Summarize(&direct, viewer, map[primitive.ObjectID]*User{
		other: {ID: other, Name: "Dr. Lee", Avatar: "https://img/lee.png"},
	})
	assert.Equal(t, "Dr. Lee", s.Title)
	assert.Equal(t, "https://img/lee.png", s.Thumbnail)
	assert.True(t, s.Unseen)
	assert.Equal(t, "hi", s.LastMessage.Content)

	s = Summarize(&direct, viewer, nil)
	assert.Equal(t, "Unknown", s.Title, "expected a fallback title for a missing profile")
	assert.Equal(t, FallbackAvatar, s.Thumbnail)

	typed := Conversation{Type: "room", Title: "Group therapy", Members: []Member{{UserID: viewer}}}
	s = Summarize(&typed, viewer, nil)
	assert.Equal(t, "Group therapy", s.Title)
	assert.Equal(t, FallbackAvatar, s.Thumbnail)
	assert.Nil(t, s.LastMessage)
	assert.False(t, s.Unseen)
}

func TestMessageJSONAlwaysHasMediaList(t *testing.T) {
	stored := Message{ID: primitive.NewObjectID(), SenderID: primitive.NewObjectID(), Content: "hi"}

	raw, err := json.Marshal(stored)
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"media":[]`)

	raw, err = json.Marshal(Conversation{Messages: []Message{stored}})
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"media":[]`)
	assert.NotContains(t, string(raw), `"media":null`)
}
