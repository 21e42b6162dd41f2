package sockio

import (
	"context"
	"sync"
	"testing"

	"clinicmsg/messaging"
	"clinicmsg/models"
	"clinicmsg/presence"
	"clinicmsg/realtime"
	"clinicmsg/store"

	socketio "github.com/googollee/go-socket.io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeSocket overrides the parts of socketio.Conn the handlers touch.
type fakeSocket struct {
	socketio.Conn
	id string

	mu     sync.Mutex
	ctx    interface{}
	events []string
}

func (s *fakeSocket) ID() string { return s.id }

func (s *fakeSocket) Context() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *fakeSocket) SetContext(ctx interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

func (s *fakeSocket) Emit(event string, v ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSocket) emitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.events...)
}

func TestEventHandlerAcks(t *testing.T) {
	mem := store.NewMemory(50)
	registry := presence.NewRegistry(nil)
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	mem.PutUser(models.User{ID: a, Name: "Ana"})
	mem.PutUser(models.User{ID: b, Name: "Ben"})
	dispatcher := messaging.NewDispatcher(mem, mem, registry)
	handler := realtime.NewHandler(registry, dispatcher)

	sockA := &fakeSocket{id: "sa"}
	sockA.SetContext(handler.NewSession(conn{s: sockA}, a.Hex()))
	sockB := &fakeSocket{id: "sb"}
	sockB.SetContext(handler.NewSession(conn{s: sockB}, b.Hex()))

	addUser := eventHandler(handler, messaging.EventAddUser)
	seen := eventHandler(handler, messaging.EventMessageSeen)

	rejected := seen(sockB, map[string]interface{}{"conversationId": primitive.NewObjectID().Hex()})
	assert.False(t, rejected.OK, "expected events before addUser to be rejected")

	require.True(t, addUser(sockA, a.Hex()).OK)
	require.True(t, addUser(sockB, b.Hex()).OK)
	assert.False(t, addUser(sockB, a.Hex()).OK, "expected addUser for another user to fail")

	res, err := dispatcher.Send(context.Background(), messaging.SendInput{SenderID: a, OtherUserID: b, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{messaging.EventGetMessage}, sockB.emitted())

	ack := seen(sockB, map[string]interface{}{"conversationId": res.Conversation.ID.Hex()})
	assert.True(t, ack.OK)
	assert.Equal(t, []string{messaging.EventMessageSeen}, sockA.emitted())
}

func TestEventHandlerWithoutSession(t *testing.T) {
	handler := realtime.NewHandler(presence.NewRegistry(nil), nil)

	ack := eventHandler(handler, messaging.EventAddUser)(&fakeSocket{id: "x"}, "someone")

	assert.False(t, ack.OK)
	assert.Equal(t, "INTERNAL_ERROR", ack.Error.Code)
}
