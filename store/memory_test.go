package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestMemory(t *testing.T) (*Memory, primitive.ObjectID, primitive.ObjectID) {
	t.Helper()
	m := NewMemory(50)
	a := models.User{ID: primitive.NewObjectID(), Name: "Alice"}
	b := models.User{ID: primitive.NewObjectID(), Name: "Bob", Avatar: "https://img/bob.png"}
	m.PutUser(a)
	m.PutUser(b)
	return m, a.ID, b.ID
}

func TestCreateDirectConversationIsUnique(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()

	_, err := m.FindDirectConversation(ctx, a, b)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "expected no conversation before first contact")

	var wg sync.WaitGroup
	ids := make([]primitive.ObjectID, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			conv, err := m.CreateDirectConversation(ctx, x, y)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "expected every concurrent first contact to resolve to one conversation")
	}

	found, err := m.FindDirectConversation(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID)
	assert.Len(t, found.Members, 2)
}

func TestCreateDirectConversationRejectsSelf(t *testing.T) {
	m, a, _ := newTestMemory(t)
	_, err := m.CreateDirectConversation(context.Background(), a, a)
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestAppendMessageKeepsCreatedAtNonDecreasing(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()

	clock := []time.Time{
		time.UnixMilli(1000),
		time.UnixMilli(3000),
		time.UnixMilli(2000), // clock steps back
		time.UnixMilli(4000),
	}
	tick := 0
	m.Now = func() time.Time {
		now := clock[tick%len(clock)]
		tick++
		return now
	}

	conv, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)

	var got []int64
	for i := 0; i < 3; i++ {
		_, msg, err := m.AppendMessage(ctx, conv.ID, models.NewMessage(a, "msg", nil))
		require.NoError(t, err)
		got = append(got, msg.CreatedAt)
	}

	assert.Equal(t, []int64{3000, 3000, 4000}, got, "expected timestamps never to decrease")
}

func TestAppendMessagePreservesCallOrder(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	conv, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.AppendMessage(ctx, conv.ID, models.NewMessage(a, "x", nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := m.FindConversation(ctx, conv.ID, a, Page{Limit: 100})
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 30)
	for i := 1; i < len(loaded.Messages); i++ {
		assert.LessOrEqual(t, loaded.Messages[i-1].CreatedAt, loaded.Messages[i].CreatedAt)
	}
}

func TestConcurrentReactionsAreAllKept(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	conv, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)
	_, msg, err := m.AppendMessage(ctx, conv.ID, models.NewMessage(a, "results", nil))
	require.NoError(t, err)

	reactors := make([]primitive.ObjectID, 25)
	var wg sync.WaitGroup
	for i := range reactors {
		reactors[i] = primitive.NewObjectID()
		wg.Add(1)
		go func(id primitive.ObjectID) {
			defer wg.Done()
			_, err := m.ToggleReaction(ctx, conv.ID, msg.ID, id, "👍")
			assert.NoError(t, err)
		}(reactors[i])
	}
	wg.Wait()

	stored, err := m.FindMessage(ctx, conv.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reactions, 1)
	assert.ElementsMatch(t, reactors, stored.Reactions[0].Reactors)

	_, err = m.ToggleReaction(ctx, conv.ID, primitive.NewObjectID(), a, "👍")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestMarkSeenForUser(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	conv, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)

	for _, sender := range []primitive.ObjectID{a, b, a} {
		_, _, err := m.AppendMessage(ctx, conv.ID, models.NewMessage(sender, "hi", nil))
		require.NoError(t, err)
	}

	changed, err := m.MarkSeenForUser(ctx, conv.ID, b)
	require.NoError(t, err)
	assert.True(t, changed)

	loaded, err := m.FindConversation(ctx, conv.ID, b, Page{})
	require.NoError(t, err)
	for _, msg := range loaded.Messages {
		assert.False(t, msg.UnseenBy(b))
	}
	assert.Equal(t, []primitive.ObjectID{b}, loaded.Messages[1].SeenBy, "expected b's own message unchanged")

	changed, err = m.MarkSeenForUser(ctx, conv.ID, b)
	require.NoError(t, err)
	assert.False(t, changed, "expected the second call to be a no-op")

	_, err = m.MarkSeenForUser(ctx, conv.ID, primitive.NewObjectID())
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "expected non-members to get not found")
}

func TestListAndUnseenConversations(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	tick := int64(0)
	m.Now = func() time.Time {
		tick += 10
		return time.UnixMilli(tick)
	}

	empty, err := m.CreateConversation(ctx, NewConversation{Type: "room", Title: "Waiting room", Members: []primitive.ObjectID{a, b}})
	require.NoError(t, err)
	direct, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)
	_, _, err = m.AppendMessage(ctx, direct.ID, models.NewMessage(a, "hello", nil))
	require.NoError(t, err)

	all, err := m.ListConversationsForUser(ctx, b, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, direct.ID, all[0].ID, "expected the most recently updated first")
	assert.Equal(t, "Alice", all[0].Title)
	assert.Equal(t, models.FallbackAvatar, all[0].Thumbnail)
	assert.Equal(t, empty.ID, all[1].ID)

	nonEmpty, err := m.ListConversationsForUser(ctx, b, ListOptions{RequireNonEmpty: true})
	require.NoError(t, err)
	require.Len(t, nonEmpty, 1)

	unseen, err := m.UnseenConversationsForUser(ctx, b)
	require.NoError(t, err)
	require.Len(t, unseen, 1)
	assert.Equal(t, direct.ID, unseen[0].ID)

	unseen, err = m.UnseenConversationsForUser(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, unseen, "expected the sender to have nothing unseen")

	_, err = m.MarkSeenForUser(ctx, direct.ID, b)
	require.NoError(t, err)
	unseen, err = m.UnseenConversationsForUser(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, unseen)
}

func TestFindConversationAccess(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	conv, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)

	_, err = m.FindConversation(ctx, conv.ID, primitive.NewObjectID(), Page{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	_, err = m.FindConversation(ctx, primitive.NewObjectID(), a, Page{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	for i := 0; i < 5; i++ {
		_, _, err := m.AppendMessage(ctx, conv.ID, models.NewMessage(a, "m", nil))
		require.NoError(t, err)
	}
	loaded, err := m.FindConversation(ctx, conv.ID, a, Page{Limit: 2, Skip: 1})
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
}

func TestTypedConversationMembership(t *testing.T) {
	m, a, b := newTestMemory(t)
	ctx := context.Background()
	c := primitive.NewObjectID()

	room, err := m.CreateConversation(ctx, NewConversation{Type: "room", ContextID: "r1", Members: []primitive.ObjectID{a, b, a}})
	require.NoError(t, err)
	assert.Len(t, room.Members, 2, "expected duplicate members to collapse")

	updated, err := m.AddMember(ctx, room.ID, c)
	require.NoError(t, err)
	assert.True(t, updated.HasMember(c))

	updated, err = m.AddMember(ctx, room.ID, c)
	require.NoError(t, err)
	assert.Len(t, updated.Members, 3, "expected adding twice to be idempotent")

	require.NoError(t, m.SetMuted(ctx, room.ID, b, true))
	loaded, err := m.FindConversation(ctx, room.ID, b, Page{})
	require.NoError(t, err)
	member, _ := loaded.Member(b)
	assert.True(t, member.IsMuted)

	direct, err := m.CreateDirectConversation(ctx, a, b)
	require.NoError(t, err)
	_, err = m.AddMember(ctx, direct.ID, c)
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest), "expected direct membership to be fixed")

	_, err = m.CreateConversation(ctx, NewConversation{Members: []primitive.ObjectID{a}})
	assert.True(t, apperr.Is(err, apperr.CodeBadRequest))
}

func TestSubscriptionsUpsertPerUser(t *testing.T) {
	m, a, _ := newTestMemory(t)
	ctx := context.Background()

	first := models.PushSubscription{UserID: a}
	first.Sub.Endpoint = "https://push/1"
	require.NoError(t, m.SaveSubscription(ctx, first))

	second := models.PushSubscription{UserID: a}
	second.Sub.Endpoint = "https://push/2"
	require.NoError(t, m.SaveSubscription(ctx, second))

	sub, err := m.FindSubscription(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "https://push/2", sub.Sub.Endpoint)

	require.NoError(t, m.DeleteSubscription(ctx, a))
	_, err = m.FindSubscription(ctx, a)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
