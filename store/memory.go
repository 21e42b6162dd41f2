package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinicmsg/apperr"
	"clinicmsg/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Memory implements every store interface in process. It backs the test
// suites and STORE_DRIVER=memory.
type Memory struct {
	mu            sync.RWMutex
	conversations map[primitive.ObjectID]*models.Conversation
	direct        map[string]primitive.ObjectID
	users         map[primitive.ObjectID]*models.User
	subs          map[primitive.ObjectID]models.PushSubscription
	window        int

	Now func() time.Time
}

func NewMemory(window int) *Memory {
	return &Memory{
		conversations: make(map[primitive.ObjectID]*models.Conversation),
		direct:        make(map[string]primitive.ObjectID),
		users:         make(map[primitive.ObjectID]*models.User),
		subs:          make(map[primitive.ObjectID]models.PushSubscription),
		window:        window,
		Now:           time.Now,
	}
}

// PutUser inserts or replaces a user record.
func (m *Memory) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	m.users[u.ID] = &u
}

func (m *Memory) now() int64 {
	return m.Now().UnixMilli()
}

func (m *Memory) FindDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.direct[models.DirectKey(a, b)]
	if !ok {
		return nil, apperr.NotFound("conversation", nil)
	}
	conv := m.conversations[id].Clone()
	conv.Messages = models.Window(conv.Messages, m.window, 0)
	return &conv, nil
}

func (m *Memory) CreateDirectConversation(ctx context.Context, a, b primitive.ObjectID) (*models.Conversation, error) {
	if a == b {
		return nil, apperr.BadRequest("a direct conversation needs two distinct members", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := models.DirectKey(a, b)
	if id, ok := m.direct[key]; ok {
		conv := m.conversations[id].Clone()
		conv.Messages = models.Window(conv.Messages, m.window, 0)
		return &conv, nil
	}

	conv := models.NewDirectConversation(a, b, m.now())
	m.conversations[conv.ID] = &conv
	m.direct[key] = conv.ID
	out := conv.Clone()
	return &out, nil
}

func (m *Memory) CreateConversation(ctx context.Context, in NewConversation) (*models.Conversation, error) {
	if in.Type == models.TypeDirect {
		return nil, apperr.BadRequest("conversation type is required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv := newTypedConversation(in, m.now())
	m.conversations[conv.ID] = &conv
	out := conv.Clone()
	return &out, nil
}

func (m *Memory) FindConversation(ctx context.Context, id, viewer primitive.ObjectID, page Page) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.conversations[id]
	if !ok || (!viewer.IsZero() && !stored.HasMember(viewer)) {
		return nil, apperr.NotFound("conversation", nil)
	}
	if page.Limit <= 0 {
		page.Limit = m.window
	}
	conv := stored.Clone()
	conv.Messages = models.Window(conv.Messages, page.Limit, page.Skip)
	return &conv, nil
}

func (m *Memory) FindMessage(ctx context.Context, conversationID, messageID primitive.ObjectID) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, apperr.NotFound("conversation", nil)
	}
	msg, ok := conv.FindMessage(messageID)
	if !ok {
		return nil, apperr.NotFound("message", nil)
	}
	out := msg.Clone()
	return &out, nil
}

func (m *Memory) AppendMessage(ctx context.Context, conversationID primitive.ObjectID, msg models.Message) (*models.Conversation, *models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil, apperr.NotFound("conversation", nil)
	}

	msg = msg.Clone()
	msg.CreatedAt = nextCreatedAt(m.now(), conv.TailCreatedAt())
	conv.Messages = append(conv.Messages, msg)
	conv.Version++
	conv.UpdatedAt = msg.CreatedAt

	out := conv.Clone()
	out.Messages = models.Window(out.Messages, m.window, 0)
	stored := msg.Clone()
	return &out, &stored, nil
}

func (m *Memory) MarkSeenForUser(ctx context.Context, conversationID, userID primitive.ObjectID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok || !conv.HasMember(userID) {
		return false, apperr.NotFound("conversation", nil)
	}
	changed := conv.MarkSeen(userID)
	if changed {
		conv.UpdatedAt = m.now()
	}
	return changed, nil
}

func (m *Memory) ListConversationsForUser(ctx context.Context, userID primitive.ObjectID, opts ListOptions) ([]models.Summary, error) {
	return m.summaries(userID, func(c *models.Conversation) bool {
		return !opts.RequireNonEmpty || len(c.Messages) > 0
	}), nil
}

func (m *Memory) UnseenConversationsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Summary, error) {
	return m.summaries(userID, func(c *models.Conversation) bool {
		return c.HasUnseenTail(userID)
	}), nil
}

func (m *Memory) summaries(userID primitive.ObjectID, keep func(*models.Conversation) bool) []models.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Conversation
	for _, c := range m.conversations {
		if c.HasMember(userID) && keep(c) {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].UpdatedAt == matched[j].UpdatedAt {
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		}
		return matched[i].UpdatedAt > matched[j].UpdatedAt
	})

	profiles := make(map[primitive.ObjectID]*models.User, len(m.users))
	for id, u := range m.users {
		copied := *u
		profiles[id] = &copied
	}

	out := make([]models.Summary, 0, len(matched))
	for _, c := range matched {
		conv := c.Clone()
		out = append(out, models.Summarize(&conv, userID, profiles))
	}
	return out
}

func (m *Memory) AddMember(ctx context.Context, conversationID, userID primitive.ObjectID) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, apperr.NotFound("conversation", nil)
	}
	if conv.IsDirect() {
		return nil, apperr.BadRequest("members of a direct conversation cannot change", nil)
	}
	if !conv.HasMember(userID) {
		conv.Members = append(conv.Members, models.Member{UserID: userID})
		conv.UpdatedAt = m.now()
	}
	out := conv.Clone()
	out.Messages = models.Window(out.Messages, m.window, 0)
	return &out, nil
}

func (m *Memory) SetMuted(ctx context.Context, conversationID, userID primitive.ObjectID, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return apperr.NotFound("conversation", nil)
	}
	for i := range conv.Members {
		if conv.Members[i].UserID == userID {
			conv.Members[i].IsMuted = muted
			return nil
		}
	}
	return apperr.NotFound("conversation", nil)
}

func (m *Memory) ToggleReaction(ctx context.Context, conversationID, messageID, userID primitive.ObjectID, emoji string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, apperr.NotFound("conversation", nil)
	}
	msg, ok := conv.FindMessage(messageID)
	if !ok {
		return nil, apperr.NotFound("message", nil)
	}
	msg.ToggleReaction(userID, emoji)
	conv.Version++
	out := msg.Clone()
	return &out, nil
}

func (m *Memory) FindUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user", nil)
	}
	out := *u
	return &out, nil
}

func (m *Memory) FindUsers(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *Memory) SetActivity(ctx context.Context, id primitive.ObjectID, online bool, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user", nil)
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

func (m *Memory) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.subs[sub.UserID]; ok {
		sub.ID = existing.ID
	} else if sub.ID.IsZero() {
		sub.ID = primitive.NewObjectID()
	}
	sub.UpdatedAt = m.now()
	m.subs[sub.UserID] = sub
	return nil
}

func (m *Memory) FindSubscription(ctx context.Context, userID primitive.ObjectID) (*models.PushSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[userID]
	if !ok {
		return nil, apperr.NotFound("push subscription", nil)
	}
	return &sub, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, userID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, userID)
	return nil
}

func newTypedConversation(in NewConversation, now int64) models.Conversation {
	conv := models.Conversation{
		ID:        primitive.NewObjectID(),
		Type:      in.Type,
		ContextID: in.ContextID,
		Title:     in.Title,
		Thumbnail: in.Thumbnail,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.Thumbnail == "" {
		conv.Thumbnail = models.FallbackAvatar
	}
	seen := make(map[primitive.ObjectID]bool, len(in.Members))
	for _, id := range in.Members {
		if seen[id] {
			continue
		}
		seen[id] = true
		conv.Members = append(conv.Members, models.Member{UserID: id})
	}
	return conv
}
