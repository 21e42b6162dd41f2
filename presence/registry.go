package presence

import (
	"sort"
	"sync"

	"clinicmsg/logger"
	"clinicmsg/metrics"
)

// Conn is a live transport connection that can receive named events.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// Broadcaster addresses events to users rather than connections.
type Broadcaster interface {
	Broadcast(userID, event string, payload any) int
	BroadcastMany(userIDs []string, event string, payload any) int
}

// ActivityFunc observes online/offline transitions. It runs outside the
// registry lock on the goroutine that registered or removed the connection.
// Calls for one user never overlap, and online is the user's state when the
// call starts, so the last call always reports the current state.
type ActivityFunc func(userID string, online bool)

// Registry maps users to their live connections. A user is online while
// they have at least one connection.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]Conn
	owners map[string]string

	onActivity ActivityFunc
	seqMu      sync.Mutex
	seq        map[string]*userSeq
}

// userSeq serializes activity calls for one user.
type userSeq struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry(onActivity ActivityFunc) *Registry {
	return &Registry{
		users:      make(map[string]map[string]Conn),
		owners:     make(map[string]string),
		onActivity: onActivity,
		seq:        make(map[string]*userSeq),
	}
}

// Register adds c to userID's connections and marks the user online. A
// connection already owned by another user is moved.
func (r *Registry) Register(userID string, c Conn) {
	if userID == "" || c == nil {
		return
	}
	connID := c.ID()

	r.mu.Lock()
	previous, moved := r.owners[connID]
	wentOffline := false
	if moved && previous != userID {
		wentOffline = r.detachLocked(previous, connID)
	}
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.users[userID] = conns
	}
	conns[connID] = c
	r.owners[connID] = userID
	r.mu.Unlock()

	if wentOffline {
		r.notify(previous)
	}
	r.notify(userID)
}

// Remove drops connID. When it was the user's last connection the user
// entry is deleted and the user is marked offline once.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	userID, ok := r.owners[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	wentOffline := r.detachLocked(userID, connID)
	r.mu.Unlock()

	if wentOffline {
		r.notify(userID)
	}
}

func (r *Registry) detachLocked(userID, connID string) bool {
	delete(r.owners, connID)
	conns := r.users[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// notify reports userID's current state. The state is read after the
// user's sequence lock is taken: a Remove and a Register racing on the same
// user both report, and whichever runs last sees the newest state.
func (r *Registry) notify(userID string) {
	if r.onActivity == nil {
		return
	}
	unlock := r.lockUser(userID)
	defer unlock()
	r.onActivity(userID, r.IsOnline(userID))
}

func (r *Registry) lockUser(userID string) func() {
	r.seqMu.Lock()
	s, ok := r.seq[userID]
	if !ok {
		s = &userSeq{}
		r.seq[userID] = s
	}
	s.refs++
	r.seqMu.Unlock()

	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		r.seqMu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(r.seq, userID)
		}
		r.seqMu.Unlock()
	}
}

// ConnectionsFor returns the sorted connection ids of userID.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) snapshot(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.users[userID]))
	for _, c := range r.users[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast emits to every live connection of userID and returns how many
// accepted the event. Nothing is queued for offline users.
func (r *Registry) Broadcast(userID, event string, payload any) int {
	conns := r.snapshot(userID)
	if len(conns) == 0 {
		metrics.DeliveryMisses.WithLabelValues(event).Inc()
		logger.Info().Str("userId", userID).Str("event", event).Msg("delivery miss: user has no live connection")
		return 0
	}

	delivered := 0
	for _, c := range conns {
		if err := c.Emit(event, payload); err != nil {
			logger.Warn().Err(err).Str("userId", userID).Str("connId", c.ID()).Str("event", event).Msg("emit failed")
			continue
		}
		delivered++
	}
	metrics.EventsDelivered.WithLabelValues(event).Add(float64(delivered))
	return delivered
}

func (r *Registry) BroadcastMany(userIDs []string, event string, payload any) int {
	total := 0
	for _, id := range userIDs {
		total += r.Broadcast(id, event, payload)
	}
	return total
}
