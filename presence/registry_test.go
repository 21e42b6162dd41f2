package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []emitted
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{event, payload})
	return nil
}

func (c *fakeConn) received() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted{}, c.events...)
}

type activityLog struct {
	mu     sync.Mutex
	events []string
}

func (l *activityLog) record(userID string, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	l.events = append(l.events, userID+":"+state)
}

func (l *activityLog) count(entry string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == entry {
			n++
		}
	}
	return n
}

func TestPresenceSymmetry(t *testing.T) {
	log := &activityLog{}
	r := NewRegistry(log.record)
	c1, c2 := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}

	r.Register("u", c1)
	r.Register("u", c2)
	assert.Equal(t, []string{"c1", "c2"}, r.ConnectionsFor("u"))
	assert.True(t, r.IsOnline("u"))

	r.Remove("c1")
	assert.Equal(t, []string{"c2"}, r.ConnectionsFor("u"))
	assert.Equal(t, 0, log.count("u:offline"), "expected the user to stay online with one connection left")

	r.Remove("c2")
	assert.Empty(t, r.ConnectionsFor("u"))
	assert.False(t, r.IsOnline("u"))
	assert.Equal(t, 1, log.count("u:offline"), "expected exactly one offline transition")

	r.Remove("c2")
	assert.Equal(t, 1, log.count("u:offline"), "expected removing an unknown connection to be a no-op")
	assert.Equal(t, 0, r.OnlineUsers())
}

func TestRegisterIsIdempotent(t *testing.T) {
	log := &activityLog{}
	r := NewRegistry(log.record)
	c := &fakeConn{id: "c1"}

	r.Register("u", c)
	r.Register("u", c)

	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("u"))
	assert.Equal(t, 1, r.Connections())
	assert.Equal(t, 2, log.count("u:online"), "expected every registration to refresh activity")
}

func TestRegisterMovesConnectionBetweenUsers(t *testing.T) {
	log := &activityLog{}
	r := NewRegistry(log.record)
	c := &fakeConn{id: "c1"}

	r.Register("a", c)
	r.Register("b", c)

	assert.Empty(t, r.ConnectionsFor("a"))
	assert.Equal(t, []string{"c1"}, r.ConnectionsFor("b"))
	assert.Equal(t, 1, log.count("a:offline"))
}

func TestUnknownIdsAreNoops(t *testing.T) {
	r := NewRegistry(nil)

	assert.NotPanics(t, func() {
		r.Remove("missing")
		r.Register("", &fakeConn{id: "x"})
	})
	assert.Empty(t, r.ConnectionsFor("nobody"))
	assert.Equal(t, 0, r.Broadcast("nobody", "getMessage", "hi"), "expected a miss to deliver nothing without failing")
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	r := NewRegistry(nil)
	c1, c2, broken := &fakeConn{id: "c1"}, &fakeConn{id: "c2"}, &fakeConn{id: "c3", fail: true}
	other := &fakeConn{id: "c4"}
	r.Register("b", c1)
	r.Register("b", c2)
	r.Register("b", broken)
	r.Register("c", other)

	delivered := r.Broadcast("b", "getMessage", map[string]string{"content": "hello"})

	assert.Equal(t, 2, delivered, "expected the failing connection to be skipped")
	require.Len(t, c1.received(), 1)
	require.Len(t, c2.received(), 1)
	assert.Equal(t, "getMessage", c1.received()[0].event)
	assert.Empty(t, other.received())
}

func TestBroadcastManyPartialDelivery(t *testing.T) {
	r := NewRegistry(nil)
	b := &fakeConn{id: "b1"}
	r.Register("b", b)

	delivered := r.BroadcastMany([]string{"b", "offline"}, "messageSeen", nil)

	assert.Equal(t, 1, delivered)
	assert.Len(t, b.received(), 1)
}

func TestConcurrentRegisterAndRemove(t *testing.T) {
	log := &activityLog{}
	r := NewRegistry(log.record)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: string(rune('A' + i%26)) + string(rune('a'+i/26))}
			r.Register("u", c)
			r.Broadcast("u", "ping", nil)
			r.Remove(c.ID())
		}(i)
	}
	wg.Wait()

	assert.False(t, r.IsOnline("u"))
	assert.Equal(t, 0, r.Connections())
}

func TestActivityEndsOnCurrentStateWhenRemoveAndRegisterRace(t *testing.T) {
	var (
		mu     sync.Mutex
		writes []bool
		once   sync.Once
	)
	offlineStarted := make(chan struct{})
	releaseOffline := make(chan struct{})

	r := NewRegistry(func(userID string, online bool) {
		if !online {
			once.Do(func() { close(offlineStarted) })
			<-releaseOffline
		}
		mu.Lock()
		defer mu.Unlock()
		writes = append(writes, online)
	})
	r.Register("u", &fakeConn{id: "c1"})

	removed := make(chan struct{})
	go func() {
		r.Remove("c1")
		close(removed)
	}()
	<-offlineStarted

	registered := make(chan struct{})
	go func() {
		r.Register("u", &fakeConn{id: "c2"})
		close(registered)
	}()
	require.Eventually(t, func() bool { return r.IsOnline("u") }, time.Second, time.Millisecond)

	close(releaseOffline)
	<-removed
	<-registered

	assert.Equal(t, []string{"c2"}, r.ConnectionsFor("u"))
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, writes)
	assert.True(t, writes[len(writes)-1], "expected the last activity write to match the live connection")
	assert.Equal(t, []bool{true, false, true}, writes)
}

func TestConcurrentChurnEndsOffline(t *testing.T) {
	var (
		mu   sync.Mutex
		last = map[string]bool{}
	)
	r := NewRegistry(func(userID string, online bool) {
		mu.Lock()
		defer mu.Unlock()
		last[userID] = online
	})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{id: "conn-" + string(rune('a'+i%26)) + string(rune('a'+i/26))}
			r.Register("u", c)
			r.Remove(c.ID())
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, last["u"], "expected the final activity write to report offline")
	assert.Empty(t, r.seq, "expected sequence locks to be released")
}

func TestRelayHandleSkipsOwnOrigin(t *testing.T) {
	local := NewRegistry(nil)
	conn := &fakeConn{id: "c1"}
	local.Register("b", conn)
	relay := NewRedisRelay(local, nil, "test")

	own, err := json.Marshal(envelope{Origin: relay.origin, UserIDs: []string{"b"}, Event: "getMessage", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 0, relay.handle(own), "expected own envelopes to be ignored")

	foreign, err := json.Marshal(envelope{Origin: "other", UserIDs: []string{"b", "nobody"}, Event: "getMessage", Payload: json.RawMessage(`{"content":"hi"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, relay.handle(foreign))

	got := conn.received()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"content":"hi"}`, string(got[0].payload.(json.RawMessage)))

	assert.Equal(t, 0, relay.handle([]byte("not json")))
}
