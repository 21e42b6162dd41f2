package messaging

import (
	"context"
	"strings"

	"clinicmsg/apperr"
	"clinicmsg/logger"
	"clinicmsg/media"
	"clinicmsg/metrics"
	"clinicmsg/models"
	"clinicmsg/presence"
	"clinicmsg/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// PostSendHook runs after a message is persisted and fanned out. It must
// not block; its failures never reach the sender.
type PostSendHook func(ctx context.Context, res *SendResult, recipients []models.Member)

type SendInput struct {
	SenderID       primitive.ObjectID
	ConversationID primitive.ObjectID
	OtherUserID    primitive.ObjectID
	Content        string
	Media          []string
	Attachments    []media.File
}

type SendResult struct {
	Conversation *models.Conversation `json:"conversation"`
	Message      *models.Message      `json:"newMessage"`
}

// Dispatcher persists messages, fans them out to live connections and
// reconciles seen state.
type Dispatcher struct {
	conversations store.ConversationStore
	users         store.UserStore
	broadcaster   presence.Broadcaster
	uploader      media.Uploader
	hooks         []PostSendHook
	delivered     *recentSet
}

type Option func(*Dispatcher)

func WithUploader(u media.Uploader) Option {
	return func(d *Dispatcher) { d.uploader = u }
}

func WithPostSendHook(h PostSendHook) Option {
	return func(d *Dispatcher) { d.hooks = append(d.hooks, h) }
}

func NewDispatcher(conversations store.ConversationStore, users store.UserStore, broadcaster presence.Broadcaster, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conversations: conversations,
		users:         users,
		broadcaster:   broadcaster,
		delivered:     newRecentSet(4096),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send persists a message and delivers it to every live connection of the
// other members.
func (d *Dispatcher) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	conv, err := d.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Content) == "" && len(in.Media) == 0 && len(in.Attachments) == 0 {
		return nil, apperr.BadRequest("message must have content or media", nil)
	}
	if len(in.Attachments) > 0 && d.uploader == nil {
		return nil, apperr.BadRequest("attachments are not enabled", nil)
	}

	if conv == nil {
		conv, err = d.conversations.CreateDirectConversation(ctx, in.SenderID, in.OtherUserID)
		if err != nil {
			return nil, err
		}
	}

	refs, err := d.upload(ctx, in)
	if err != nil {
		return nil, err
	}

	updated, stored, err := d.conversations.AppendMessage(ctx, conv.ID, models.NewMessage(in.SenderID, in.Content, refs))
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	res := &SendResult{Conversation: updated, Message: stored}
	recipients := updated.Recipients(in.SenderID)

	d.delivered.add(stored.ID.Hex())
	d.broadcaster.BroadcastMany(memberHexIDs(recipients), EventGetMessage, MessageEvent{
		ConversationID: updated.ID.Hex(),
		Message:        *stored,
	})

	for _, hook := range d.hooks {
		d.runHook(ctx, hook, res, recipients)
	}
	return res, nil
}

// resolve loads the target conversation. A nil conversation with a nil
// error means a direct conversation has to be created.
func (d *Dispatcher) resolve(ctx context.Context, in SendInput) (*models.Conversation, error) {
	if !in.ConversationID.IsZero() {
		return d.conversations.FindConversation(ctx, in.ConversationID, in.SenderID, store.Page{Limit: 1})
	}
	if in.OtherUserID.IsZero() {
		return nil, apperr.BadRequest("conversationId or otherUserId is required", nil)
	}
	if in.OtherUserID == in.SenderID {
		return nil, apperr.BadRequest("cannot start a conversation with yourself", nil)
	}
	if _, err := d.users.FindUser(ctx, in.OtherUserID); err != nil {
		return nil, err
	}

	conv, err := d.conversations.FindDirectConversation(ctx, in.SenderID, in.OtherUserID)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, nil
	}
	return conv, err
}

func (d *Dispatcher) upload(ctx context.Context, in SendInput) ([]string, error) {
	refs := append([]string{}, in.Media...)
	if len(in.Attachments) == 0 {
		return refs, nil
	}

	uploaded := make([]string, len(in.Attachments))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range in.Attachments {
		g.Go(func() error {
			url, err := d.uploader.Upload(gctx, in.SenderID, f)
			if err != nil {
				return err
			}
			uploaded[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.UploadFailed("failed to upload attachment", err)
	}
	return append(refs, uploaded...), nil
}

func (d *Dispatcher) runHook(ctx context.Context, hook PostSendHook, res *SendResult, recipients []models.Member) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("conversationId", res.Conversation.ID.Hex()).Msg("panic in post-send hook")
		}
	}()
	hook(ctx, res, recipients)
}

// MarkSeen records that userID has seen the conversation and tells the
// other members when anything changed.
func (d *Dispatcher) MarkSeen(ctx context.Context, conversationID, userID primitive.ObjectID) (bool, error) {
	conv, err := d.conversations.FindConversation(ctx, conversationID, userID, store.Page{Limit: 1})
	if err != nil {
		return false, err
	}

	changed, err := d.conversations.MarkSeenForUser(ctx, conversationID, userID)
	if err != nil || !changed {
		return false, err
	}
	metrics.SeenUpdates.Inc()

	d.broadcaster.BroadcastMany(memberHexIDs(conv.Recipients(userID)), EventMessageSeen, SeenEvent{
		ConversationID: conversationID.Hex(),
		UserID:         userID.Hex(),
	})
	return true, nil
}

// Relay re-emits a persisted message on behalf of its sender. Messages that
// Send already delivered are skipped.
func (d *Dispatcher) Relay(ctx context.Context, senderID, conversationID, messageID primitive.ObjectID) (int, error) {
	conv, err := d.conversations.FindConversation(ctx, conversationID, senderID, store.Page{Limit: 1})
	if err != nil {
		return 0, err
	}
	msg, err := d.conversations.FindMessage(ctx, conversationID, messageID)
	if err != nil {
		return 0, err
	}
	if msg.SenderID != senderID {
		return 0, apperr.Forbidden("only the sender can relay a message", nil)
	}
	if !d.delivered.add(messageID.Hex()) {
		return 0, nil
	}

	return d.broadcaster.BroadcastMany(memberHexIDs(conv.Recipients(senderID)), EventGetMessage, MessageEvent{
		ConversationID: conversationID.Hex(),
		Message:        *msg,
	}), nil
}

// React toggles userID's emoji on a message.
func (d *Dispatcher) React(ctx context.Context, conversationID, messageID, userID primitive.ObjectID, emoji string) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.BadRequest("emoji is required", nil)
	}

	conv, err := d.conversations.FindConversation(ctx, conversationID, userID, store.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	msg, err := d.conversations.ToggleReaction(ctx, conversationID, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}

	d.broadcaster.BroadcastMany(memberHexIDs(conv.Recipients(userID)), EventMessageReaction, ReactionEvent{
		ConversationID: conversationID.Hex(),
		MessageID:      messageID.Hex(),
		UserID:         userID.Hex(),
		Reactions:      msg.Reactions,
	})
	return msg, nil
}

func (d *Dispatcher) Conversations(ctx context.Context, userID primitive.ObjectID, includeEmpty bool) ([]models.Summary, error) {
	return d.conversations.ListConversationsForUser(ctx, userID, store.ListOptions{RequireNonEmpty: !includeEmpty})
}

func (d *Dispatcher) UnseenConversations(ctx context.Context, userID primitive.ObjectID) ([]models.Summary, error) {
	return d.conversations.UnseenConversationsForUser(ctx, userID)
}

func (d *Dispatcher) Conversation(ctx context.Context, conversationID, viewer primitive.ObjectID, page store.Page) (*models.Conversation, error) {
	return d.conversations.FindConversation(ctx, conversationID, viewer, page)
}

// StartConversation creates a typed conversation with the creator as a
// member.
func (d *Dispatcher) StartConversation(ctx context.Context, creatorID primitive.ObjectID, in store.NewConversation) (*models.Conversation, error) {
	in.Members = append([]primitive.ObjectID{creatorID}, in.Members...)
	if err := d.requireUsers(ctx, in.Members); err != nil {
		return nil, err
	}

	conv, err := d.conversations.CreateConversation(ctx, in)
	if err != nil {
		return nil, err
	}
	d.broadcaster.BroadcastMany(memberHexIDs(conv.Recipients(creatorID)), EventConversationUpdated, ConversationEvent{Conversation: conv})
	return conv, nil
}

func (d *Dispatcher) AddMember(ctx context.Context, conversationID, actorID, userID primitive.ObjectID) (*models.Conversation, error) {
	if _, err := d.conversations.FindConversation(ctx, conversationID, actorID, store.Page{Limit: 1}); err != nil {
		return nil, err
	}
	if err := d.requireUsers(ctx, []primitive.ObjectID{userID}); err != nil {
		return nil, err
	}

	conv, err := d.conversations.AddMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	d.broadcaster.BroadcastMany(memberHexIDs(conv.Recipients(actorID)), EventConversationUpdated, ConversationEvent{Conversation: conv})
	return conv, nil
}

func (d *Dispatcher) SetMuted(ctx context.Context, conversationID, userID primitive.ObjectID, muted bool) error {
	return d.conversations.SetMuted(ctx, conversationID, userID, muted)
}

func (d *Dispatcher) requireUsers(ctx context.Context, ids []primitive.ObjectID) error {
	unique := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		unique[id] = true
	}
	users, err := d.users.FindUsers(ctx, ids)
	if err != nil {
		return err
	}
	found := make(map[primitive.ObjectID]bool, len(users))
	for _, u := range users {
		found[u.ID] = true
	}
	if len(found) < len(unique) {
		return apperr.NotFound("user", nil)
	}
	return nil
}

func memberHexIDs(members []models.Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID.Hex()
	}
	return ids
}
